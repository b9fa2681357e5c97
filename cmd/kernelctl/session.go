// Session commands wire the kernel's session-graph components (schema,
// binding, policy, quorum, reviewer, replay) into the CLI: the
// operations §6 calls out by name alongside the store/evidence
// commands in main.go. Each reads its inputs from JSON files, runs the
// pure component, and reports a stable machine-readable verdict the
// same way the store commands report theirs.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"integritykernel.dev/kernel/artifact"
	"integritykernel.dev/kernel/bundle"
	"integritykernel.dev/kernel/ids"
	"integritykernel.dev/kernel/kernelerr"
	"integritykernel.dev/kernel/replay"
	"integritykernel.dev/kernel/reviewer"
	"integritykernel.dev/kernel/schema"
)

// decodeJSONFile reads and JSON-decodes path into v ('-' reads stdin).
func decodeJSONFile(path string, v any) error {
	var r io.Reader
	if path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	return json.NewDecoder(r).Decode(v)
}

func encodeResult(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func cmdValidateContract(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("validate-contract", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dodFile := fs.String("dod-file", "", "path to a DefinitionOfDone JSON file")
	lockFile := fs.String("lock-file", "", "path to a DecisionLock JSON file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *dodFile == "" || *lockFile == "" {
		fmt.Fprintln(stderr, "validate-contract requires -dod-file and -lock-file")
		return 2
	}

	var dod artifact.DefinitionOfDone
	if err := decodeJSONFile(*dodFile, &dod); err != nil {
		fmt.Fprintf(stderr, "decode dod file: %v\n", err)
		return 2
	}
	var lock artifact.DecisionLock
	if err := decodeJSONFile(*lockFile, &lock); err != nil {
		fmt.Fprintf(stderr, "decode lock file: %v\n", err)
		return 2
	}

	me := &kernelerr.MultiError{}
	for _, e := range schema.ValidateStruct(string(artifact.KindDefinitionOfDone), &dod).Errors {
		me.Add(e)
	}
	for _, e := range dod.Validate().Errors {
		me.Add(e)
	}
	for _, e := range schema.ValidateStruct(string(artifact.KindDecisionLock), &lock).Errors {
		me.Add(e)
	}
	for _, e := range lock.Validate().Errors {
		me.Add(e)
	}
	if lock.DoDID != dod.DoDID {
		me.Add(kernelerr.New(kernelerr.SessionBoundaryInvalid, "decisionLock.dodId does not match definitionOfDone.dodId").WithArtifact(string(artifact.KindDecisionLock)).WithField("dodId"))
	}

	encodeResult(stdout, me.Sorted())
	if me.HasErrors() {
		code, count := me.FirstCodeAndCount()
		fmt.Fprintf(stderr, "validate-contract failed: %s (%d error(s))\n", code, count)
		return 1
	}
	return 0
}

type capsuleResult struct {
	Capsule artifact.PromptCapsule `json:"capsule"`
	Hash    string                 `json:"hash"`
}

func cmdBuildCapsule(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("build-capsule", flag.ContinueOnError)
	fs.SetOutput(stderr)
	sessionID := fs.String("session-id", "", "session id")
	capsuleID := fs.String("capsule-id", "", "capsule id")
	planFile := fs.String("plan-file", "", "path to an ExecutionPlan JSON file")
	boundariesFile := fs.String("boundaries-file", "", "path to a Boundaries JSON file")
	digestsFile := fs.String("digests-file", "", "path to an inputFileDigests JSON file (path -> sha256)")
	context := fs.String("context", "", "capsule context excerpt")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *sessionID == "" || *capsuleID == "" || *planFile == "" {
		fmt.Fprintln(stderr, "build-capsule requires -session-id, -capsule-id and -plan-file")
		return 2
	}

	var plan artifact.ExecutionPlan
	if err := decodeJSONFile(*planFile, &plan); err != nil {
		fmt.Fprintf(stderr, "decode plan file: %v\n", err)
		return 2
	}
	planHash, err := plan.ComputePlanHash()
	if err != nil {
		fmt.Fprintf(stderr, "compute plan hash: %v\n", err)
		return 1
	}

	var boundaries artifact.Boundaries
	if *boundariesFile != "" {
		if err := decodeJSONFile(*boundariesFile, &boundaries); err != nil {
			fmt.Fprintf(stderr, "decode boundaries file: %v\n", err)
			return 2
		}
	}
	var digests map[string]string
	if *digestsFile != "" {
		if err := decodeJSONFile(*digestsFile, &digests); err != nil {
			fmt.Fprintf(stderr, "decode digests file: %v\n", err)
			return 2
		}
	}

	capsule := artifact.PromptCapsule{
		SessionID:        *sessionID,
		CapsuleID:        *capsuleID,
		PlanHash:         planHash,
		Boundaries:       boundaries,
		Context:          *context,
		InputFileDigests: digests,
	}
	me := schema.ValidateStruct(string(artifact.KindPromptCapsule), &capsule)
	if me.HasErrors() {
		encodeResult(stdout, me.Sorted())
		return 1
	}
	hash, err := capsule.Hash()
	if err != nil {
		fmt.Fprintf(stderr, "hash capsule: %v\n", err)
		return 1
	}
	encodeResult(stdout, capsuleResult{Capsule: capsule, Hash: hash})
	return 0
}

type snapshotResult struct {
	Snapshot artifact.RepoSnapshot `json:"snapshot"`
	Hash     string                `json:"hash"`
}

func cmdBuildSnapshot(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("build-snapshot", flag.ContinueOnError)
	fs.SetOutput(stderr)
	sessionID := fs.String("session-id", "", "session id")
	takenAt := fs.String("taken-at", "", "ISO-8601 millisecond timestamp (defaults to now)")
	filesFile := fs.String("files-file", "", "path to a files JSON file (path -> sha256)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *sessionID == "" || *filesFile == "" {
		fmt.Fprintln(stderr, "build-snapshot requires -session-id and -files-file")
		return 2
	}

	var files map[string]string
	if err := decodeJSONFile(*filesFile, &files); err != nil {
		fmt.Fprintf(stderr, "decode files file: %v\n", err)
		return 2
	}

	at := *takenAt
	if at == "" {
		at = ids.NowTimestamp()
	}
	snapshot := artifact.RepoSnapshot{SessionID: *sessionID, TakenAt: at, Files: files}

	me := schema.ValidateStruct(string(artifact.KindRepoSnapshot), &snapshot)
	for _, e := range snapshot.Validate().Errors {
		me.Add(e)
	}
	if me.HasErrors() {
		encodeResult(stdout, me.Sorted())
		return 1
	}
	hash, err := snapshot.Hash()
	if err != nil {
		fmt.Fprintf(stderr, "hash snapshot: %v\n", err)
		return 1
	}
	encodeResult(stdout, snapshotResult{Snapshot: snapshot, Hash: hash})
	return 0
}

func cmdLintPacket(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("lint-packet", flag.ContinueOnError)
	fs.SetOutput(stderr)
	packetFile := fs.String("packet-file", "", "path to a StepPacket JSON file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *packetFile == "" {
		fmt.Fprintln(stderr, "lint-packet requires -packet-file")
		return 2
	}

	var packet artifact.StepPacket
	if err := decodeJSONFile(*packetFile, &packet); err != nil {
		fmt.Fprintf(stderr, "decode packet file: %v\n", err)
		return 2
	}

	me := schema.ValidateStruct(string(artifact.KindStepPacket), &packet)
	for _, e := range packet.Validate().Errors {
		me.Add(e)
	}
	encodeResult(stdout, me.Sorted())
	if me.HasErrors() {
		return 1
	}
	return 0
}

func cmdReviewStep(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("review-step", flag.ContinueOnError)
	fs.SetOutput(stderr)
	packetFile := fs.String("packet-file", "", "path to a StepPacket JSON file")
	patchFile := fs.String("patch-file", "", "path to a PatchArtifact JSON file")
	dodFile := fs.String("dod-file", "", "path to a DefinitionOfDone JSON file")
	lockFile := fs.String("lock-file", "", "path to a DecisionLock JSON file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *packetFile == "" || *patchFile == "" || *dodFile == "" || *lockFile == "" {
		fmt.Fprintln(stderr, "review-step requires -packet-file, -patch-file, -dod-file and -lock-file")
		return 2
	}

	var packet artifact.StepPacket
	if err := decodeJSONFile(*packetFile, &packet); err != nil {
		fmt.Fprintf(stderr, "decode packet file: %v\n", err)
		return 2
	}
	var patch artifact.PatchArtifact
	if err := decodeJSONFile(*patchFile, &patch); err != nil {
		fmt.Fprintf(stderr, "decode patch file: %v\n", err)
		return 2
	}
	var dod artifact.DefinitionOfDone
	if err := decodeJSONFile(*dodFile, &dod); err != nil {
		fmt.Fprintf(stderr, "decode dod file: %v\n", err)
		return 2
	}
	var lock artifact.DecisionLock
	if err := decodeJSONFile(*lockFile, &lock); err != nil {
		fmt.Fprintf(stderr, "decode lock file: %v\n", err)
		return 2
	}

	if me := reviewer.StructuralCheck(packet, patch, dod, lock); me.HasErrors() {
		encodeResult(stdout, me.Sorted())
		return 1
	}

	outcome, kerr := reviewer.Run(reviewer.DefaultRegistry(), packet, patch, &dod)
	if kerr != nil {
		encodeResult(stdout, kerr)
		return 1
	}
	encodeResult(stdout, outcome)
	if !outcome.Passed {
		return 1
	}
	return 0
}

type scpCompletenessResult struct {
	Valid            bool     `json:"valid"`
	UnresolvedHashes []string `json:"unresolvedHashes,omitempty"`
	MalformedHashes  []string `json:"malformedHashes,omitempty"`
}

func cmdValidateSealedChangePackage(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("validate-sealed-change-package", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to kernel.toml")
	scpFile := fs.String("scp-file", "", "path to a SealedChangePackage JSON file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *scpFile == "" {
		fmt.Fprintln(stderr, "validate-sealed-change-package requires -scp-file")
		return 2
	}
	cfg, log, code, ok := loadConfig(*configPath)
	if !ok {
		return code
	}
	defer log.Sync()
	as, _, err := openStores(*configPath, log, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "open stores: %v\n", err)
		return 1
	}

	var scp artifact.SealedChangePackage
	if err := decodeJSONFile(*scpFile, &scp); err != nil {
		fmt.Fprintf(stderr, "decode scp file: %v\n", err)
		return 2
	}

	var unresolved, malformed []string
	for _, hash := range scp.AllHashes() {
		ok, verr := as.Verify(hash)
		if verr != nil {
			malformed = append(malformed, hash)
			continue
		}
		if !ok {
			unresolved = append(unresolved, hash)
		}
	}

	result := scpCompletenessResult{Valid: len(unresolved) == 0 && len(malformed) == 0, UnresolvedHashes: unresolved, MalformedHashes: malformed}
	encodeResult(stdout, result)
	if !result.Valid {
		return 1
	}
	return 0
}

func cmdReplay(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	fs.SetOutput(stderr)
	bundleFile := fs.String("bundle-file", "", "path to an ArtifactBundle JSON file")
	policiesFile := fs.String("policies-file", "", "path to a []policy.Policy JSON file")
	policyInputFile := fs.String("policy-input-file", "", "path to a policy evaluation input JSON file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *bundleFile == "" {
		fmt.Fprintln(stderr, "replay requires -bundle-file")
		return 2
	}

	var b bundle.ArtifactBundle
	if err := decodeJSONFile(*bundleFile, &b); err != nil {
		fmt.Fprintf(stderr, "decode bundle file: %v\n", err)
		return 2
	}

	var opts replay.Options
	if *policiesFile != "" {
		if err := decodeJSONFile(*policiesFile, &opts.Policies); err != nil {
			fmt.Fprintf(stderr, "decode policies file: %v\n", err)
			return 2
		}
	}
	if *policyInputFile != "" {
		if err := decodeJSONFile(*policyInputFile, &opts.PolicyInput); err != nil {
			fmt.Fprintf(stderr, "decode policy input file: %v\n", err)
			return 2
		}
	}

	result := replay.Replay(&b, opts)
	encodeResult(stdout, result)
	if !result.DeterministicReplayPassed {
		return 1
	}
	return 0
}
