package artifact

import (
	"integritykernel.dev/kernel/canon"
	"integritykernel.dev/kernel/kernelerr"
)

// VerificationMethod enumerates how a DoD item is re-verified (§3).
type VerificationMethod string

const (
	MethodCommandExitCode    VerificationMethod = "command_exit_code"
	MethodFileExists         VerificationMethod = "file_exists"
	MethodFileHashMatch      VerificationMethod = "file_hash_match"
	MethodCommandOutputMatch VerificationMethod = "command_output_match"
	MethodArtifactRecorded   VerificationMethod = "artifact_recorded"
	MethodCustom             VerificationMethod = "custom"
)

// DoDItem is one verifiable completion criterion.
type DoDItem struct {
	ItemID                string             `json:"itemId" validate:"required,uuid4"`
	Description           string             `json:"description" validate:"required,min=10"`
	VerificationMethod    VerificationMethod `json:"verificationMethod" validate:"required"`
	VerificationCommand   string             `json:"verificationCommand,omitempty"`
	ExpectedExitCode      *int               `json:"expectedExitCode,omitempty"`
	FilePath              string             `json:"filePath,omitempty"`
	ExpectedHash          string             `json:"expectedHash,omitempty"`
	ExpectedOutputPattern string             `json:"expectedOutputPattern,omitempty"`
	ArtifactHash          string             `json:"artifactHash,omitempty"`
	VerificationProcedure string             `json:"verificationProcedure,omitempty"`
}

// DefinitionOfDone is the session's immutable list of verifiable
// completion criteria (§3).
type DefinitionOfDone struct {
	SessionID string    `json:"sessionId" validate:"required,uuid4"`
	DoDID     string    `json:"dodId" validate:"required,uuid4"`
	Items     []DoDItem `json:"items" validate:"required,min=1"`
	Extra     Extra     `json:"-"`
}

// Validate enforces the per-method field requirements (§4.5): each
// verification method's method-specific fields must be present, and
// itemIds must be unique. It does not inspect description wording; the
// only description constraint is the struct tag's 10-character minimum,
// checked by schema.ValidateStruct.
func (d DefinitionOfDone) Validate() *kernelerr.MultiError {
	me := &kernelerr.MultiError{}
	if len(d.Items) == 0 {
		me.Add(kernelerr.New(kernelerr.SchemaInvalid, "DefinitionOfDone requires at least one item").WithArtifact(string(KindDefinitionOfDone)))
	}
	seen := map[string]bool{}
	for _, it := range d.Items {
		if seen[it.ItemID] {
			me.Add(kernelerr.New(kernelerr.SchemaInvalid, "duplicate DoD itemId").WithArtifact(string(KindDefinitionOfDone)).WithField(it.ItemID))
		}
		seen[it.ItemID] = true
		switch it.VerificationMethod {
		case MethodCommandExitCode:
			if it.VerificationCommand == "" || it.ExpectedExitCode == nil {
				me.Add(kernelerr.New(kernelerr.SchemaInvalid, "command_exit_code requires verificationCommand and expectedExitCode").WithArtifact(string(KindDefinitionOfDone)).WithField(it.ItemID))
			}
		case MethodFileExists:
			if it.FilePath == "" {
				me.Add(kernelerr.New(kernelerr.SchemaInvalid, "file_exists requires filePath").WithArtifact(string(KindDefinitionOfDone)).WithField(it.ItemID))
			}
		case MethodFileHashMatch:
			if it.FilePath == "" || it.ExpectedHash == "" {
				me.Add(kernelerr.New(kernelerr.SchemaInvalid, "file_hash_match requires filePath and expectedHash").WithArtifact(string(KindDefinitionOfDone)).WithField(it.ItemID))
			}
		case MethodCommandOutputMatch:
			if it.VerificationCommand == "" || it.ExpectedOutputPattern == "" {
				me.Add(kernelerr.New(kernelerr.SchemaInvalid, "command_output_match requires verificationCommand and expectedOutputPattern").WithArtifact(string(KindDefinitionOfDone)).WithField(it.ItemID))
			}
		case MethodArtifactRecorded:
			if it.ArtifactHash == "" {
				me.Add(kernelerr.New(kernelerr.SchemaInvalid, "artifact_recorded requires artifactHash").WithArtifact(string(KindDefinitionOfDone)).WithField(it.ItemID))
			}
		case MethodCustom:
			if len(it.VerificationProcedure) < 20 {
				me.Add(kernelerr.New(kernelerr.SchemaInvalid, "custom requires verificationProcedure of at least 20 characters").WithArtifact(string(KindDefinitionOfDone)).WithField(it.ItemID))
			}
		default:
			me.Add(kernelerr.New(kernelerr.SchemaInvalid, "unknown verification method").WithArtifact(string(KindDefinitionOfDone)).WithField(it.ItemID))
		}
	}
	return me
}

func (d DefinitionOfDone) Normalize() map[string]any {
	items := make([]any, len(d.Items))
	for i, it := range d.Items {
		obj := canon.Object{
			"itemId":             it.ItemID,
			"description":        it.Description,
			"verificationMethod": string(it.VerificationMethod),
		}.
			SetIfPresent("verificationCommand", it.VerificationCommand, it.VerificationCommand != "").
			SetIfPresent("filePath", it.FilePath, it.FilePath != "").
			SetIfPresent("expectedHash", it.ExpectedHash, it.ExpectedHash != "").
			SetIfPresent("expectedOutputPattern", it.ExpectedOutputPattern, it.ExpectedOutputPattern != "").
			SetIfPresent("artifactHash", it.ArtifactHash, it.ArtifactHash != "").
			SetIfPresent("verificationProcedure", it.VerificationProcedure, it.VerificationProcedure != "")
		if it.ExpectedExitCode != nil {
			obj.Set("expectedExitCode", int64(*it.ExpectedExitCode))
		}
		items[i] = obj
	}
	base := canon.Object{
		"sessionId": d.SessionID,
		"dodId":     d.DoDID,
		"items":     items,
	}
	return d.Extra.merge(base)
}

func (d DefinitionOfDone) Hash() (string, error) { return hashOf(d.Normalize()) }
