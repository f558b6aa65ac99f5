package protocol

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/invopop/jsonschema"
)

// NewFunctionTool declares a function whose parameters are described by
// the JSON schema reflected from args (a struct or a pointer to one).
func NewFunctionTool(name, description string, args any) (Tool, error) {
	reflector := jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: false,
	}

	var schema *jsonschema.Schema
	if t := reflect.TypeOf(args); t != nil && t.Kind() == reflect.Ptr {
		schema = reflector.ReflectFromType(t.Elem())
	} else {
		schema = reflector.Reflect(args)
	}
	schema.Version = ""
	schema.ID = ""

	parameters, err := json.Marshal(schema)
	if err != nil {
		return Tool{}, fmt.Errorf("failed to marshal %s parameters: %w", name, err)
	}

	return Tool{
		Type:        "function",
		Name:        name,
		Description: description,
		Parameters:  parameters,
	}, nil
}

// FAQToolName is the knowledge lookup capability the model may call.
const FAQToolName = "get_faq_answer"

// FAQArguments are the arguments of the knowledge lookup tool.
type FAQArguments struct {
	Question string `json:"question" jsonschema:"description=Pregunta del usuario en texto."`
}

// NewFAQTool declares the knowledge lookup tool.
func NewFAQTool() (Tool, error) {
	return NewFunctionTool(
		FAQToolName,
		"Obtiene una respuesta de las FAQs internas si aplica.",
		FAQArguments{},
	)
}
