package utils

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/suite"
)

type SchemaTestSuite struct {
	suite.Suite
}

func TestSchemaSuite(t *testing.T) {
	suite.Run(t, new(SchemaTestSuite))
}

type sampleConfig struct {
	Instrument  string   `json:"instrument" jsonschema:"required,description=Instrument to download"`
	Granularity string   `json:"granularity" jsonschema:"enum=S5,enum=M1"`
	Smooth      bool     `json:"smooth"`
	Tags        []string `json:"tags,omitempty"`
}

type nestedConfig struct {
	Name   string       `json:"name"`
	Config sampleConfig `json:"config"`
}

func (suite *SchemaTestSuite) decode(config any) map[string]any {
	schema, err := GetSchemaFromConfig(config)
	suite.Require().NoError(err)

	var result map[string]any
	suite.Require().NoError(json.Unmarshal([]byte(schema), &result))

	return result
}

func (suite *SchemaTestSuite) TestReferencesDefinitions() {
	result := suite.decode(sampleConfig{})

	suite.Contains(result, "$schema")
	suite.Contains(result, "$ref")
	suite.Contains(result, "$defs")
}

func (suite *SchemaTestSuite) TestRequiredOnlyFromTags() {
	result := suite.decode(sampleConfig{})

	definition := result["$defs"].(map[string]any)["sampleConfig"].(map[string]any)
	suite.Equal([]any{"instrument"}, definition["required"])

	properties := definition["properties"].(map[string]any)
	suite.Equal([]any{"S5", "M1"}, properties["granularity"].(map[string]any)["enum"])
}

func (suite *SchemaTestSuite) TestNestedAndPointer() {
	result := suite.decode(&nestedConfig{})

	definitions := result["$defs"].(map[string]any)
	suite.Contains(definitions, "nestedConfig")
	suite.Contains(definitions, "sampleConfig")
}

func (suite *SchemaTestSuite) TestIndented() {
	schema, err := GetSchemaFromConfig(sampleConfig{})
	suite.Require().NoError(err)
	suite.Contains(schema, "\n  \"$schema\"")
}
