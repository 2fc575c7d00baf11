package tool

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"
)

// EchoName is the name the echo tool is called by.
const EchoName = "echo"

// FallbackMessage is returned when the message argument is absent or unusable.
const FallbackMessage = "No message provided"

// EchoArgs is the argument object of the echo tool.
type EchoArgs struct {
	Message string `json:"message,omitempty" jsonschema:"description=Text returned unchanged"`
}

// Echo returns the message argument verbatim. Any missing, null, non-string
// or otherwise malformed input yields FallbackMessage; it never fails.
func Echo(arguments json.RawMessage) string {
	var args map[string]json.RawMessage
	if err := json.Unmarshal(arguments, &args); err != nil {
		return FallbackMessage
	}

	raw, ok := args["message"]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return FallbackMessage
	}

	var msg string
	if err := json.Unmarshal(raw, &msg); err != nil {
		return FallbackMessage
	}
	return msg
}

var (
	echoDescriptorOnce sync.Once
	echoDescriptor     Tool
	echoDescriptorErr  error
)

// EchoDescriptor returns the tools/list entry for the echo tool.
func EchoDescriptor() (Tool, error) {
	echoDescriptorOnce.Do(func() {
		schema, err := reflectInputSchema(new(EchoArgs))
		if err != nil {
			echoDescriptorErr = err
			return
		}
		echoDescriptor = Tool{
			Name:        EchoName,
			Title:       "Echo",
			Description: "Returns the given message unchanged",
			InputSchema: schema,
		}
	})
	return echoDescriptor, echoDescriptorErr
}

// reflectInputSchema builds an inline object schema from a Go struct.
func reflectInputSchema(v any) (json.RawMessage, error) {
	r := &jsonschema.Reflector{
		Anonymous:      true,
		DoNotReference: true,
		ExpandedStruct: true,
	}
	s := r.Reflect(v)
	s.Version = ""

	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal input schema: %w", err)
	}
	return raw, nil
}
