package schema

// Default JSON Schema documents for the artifact kinds whose shape is
// most naturally authored declaratively. These complement (not
// replace) the struct-tag fast path and the artifact package's
// cross-field Validate() methods.
const dodSchemaV1 = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["sessionId", "dodId", "items"],
  "properties": {
    "sessionId": {"type": "string", "pattern": "^[0-9a-f-]{36}$"},
    "dodId": {"type": "string", "pattern": "^[0-9a-f-]{36}$"},
    "items": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["itemId", "description", "verificationMethod"],
        "properties": {
          "description": {"type": "string", "minLength": 10},
          "verificationMethod": {
            "enum": ["command_exit_code", "file_exists", "file_hash_match", "command_output_match", "artifact_recorded", "custom"]
          }
        }
      }
    }
  }
}`

const approvalPolicySchemaV1 = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["policyId", "approvers", "rules", "allowedAlgorithms"],
  "properties": {
    "approvers": {"type": "array", "minItems": 1},
    "rules": {"type": "array", "minItems": 1},
    "allowedAlgorithms": {"type": "array", "minItems": 1}
  }
}`

// NewDefaultRegistry returns a Registry pre-loaded with the kernel's
// built-in schema set.
func NewDefaultRegistry() (*Registry, error) {
	r := NewRegistry()
	if err := r.Register("definition_of_done", dodSchemaV1); err != nil {
		return nil, err
	}
	if err := r.Register("approval_policy", approvalPolicySchemaV1); err != nil {
		return nil, err
	}
	return r, nil
}
