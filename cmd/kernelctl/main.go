// Command kernelctl is the kernel's operator CLI: a thin wedge over
// the store, schema, binding, policy, quorum, reviewer and replay
// packages. main.go wires the store/event/evidence commands; the
// session-graph commands (validate-contract, build-capsule,
// build-snapshot, lint-packet, review-step,
// validate-sealed-change-package, replay) live in session.go and wire
// schema, reviewer, and replay directly, and binding, policy, and
// quorum transitively through replay.Replay. Each subcommand parses
// its own flag.FlagSet, in the same manual dispatch style as the
// teacher's node CLI.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"integritykernel.dev/kernel/config"
	"integritykernel.dev/kernel/evidence"
	"integritykernel.dev/kernel/ids"
	"integritykernel.dev/kernel/store"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "usage: kernelctl <init|new-run|append-event|put-artifact|list-events|verify-run|verify-evidence-chain|export-evidence|validate-contract|build-capsule|build-snapshot|lint-packet|review-step|validate-sealed-change-package|replay> [flags]")
		return 2
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "init":
		return cmdInit(rest, stdout, stderr)
	case "new-run":
		return cmdNewRun(rest, stdout, stderr)
	case "append-event":
		return cmdAppendEvent(rest, stdout, stderr)
	case "put-artifact":
		return cmdPutArtifact(rest, stdout, stderr)
	case "list-events":
		return cmdListEvents(rest, stdout, stderr)
	case "verify-run":
		return cmdVerifyRun(rest, stdout, stderr)
	case "verify-evidence-chain":
		return cmdVerifyEvidenceChain(rest, stdout, stderr)
	case "export-evidence":
		return cmdExportEvidence(rest, stdout, stderr)
	case "validate-contract":
		return cmdValidateContract(rest, stdout, stderr)
	case "build-capsule":
		return cmdBuildCapsule(rest, stdout, stderr)
	case "build-snapshot":
		return cmdBuildSnapshot(rest, stdout, stderr)
	case "lint-packet":
		return cmdLintPacket(rest, stdout, stderr)
	case "review-step":
		return cmdReviewStep(rest, stdout, stderr)
	case "validate-sealed-change-package":
		return cmdValidateSealedChangePackage(rest, stdout, stderr)
	case "replay":
		return cmdReplay(rest, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown subcommand %q\n", cmd)
		return 2
	}
}

func loadConfig(configPath string) (*config.Config, *zap.Logger, int, bool) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, 2, false
	}
	log, err := zap.NewProduction()
	if err != nil {
		log = zap.NewNop()
	}
	return cfg, log, 0, true
}

func cmdInit(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to kernel.toml")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg, log, code, ok := loadConfig(*configPath)
	if !ok {
		fmt.Fprintf(stderr, "config error\n")
		return code
	}
	defer log.Sync()

	root := cfg.Store.Root
	if root == "" {
		r, err := store.DefaultRoot()
		if err != nil {
			fmt.Fprintf(stderr, "resolve store root: %v\n", err)
			return 1
		}
		root = r
	}
	if _, err := store.NewArtifactStore(root, cfg.Store.ArtifactMaxBytes, log); err != nil {
		fmt.Fprintf(stderr, "init artifact store: %v\n", err)
		return 1
	}
	dbPath := cfg.Store.DBPath
	if dbPath == "" {
		p, err := store.DefaultDBPath(root)
		if err != nil {
			fmt.Fprintf(stderr, "resolve db path: %v\n", err)
			return 1
		}
		dbPath = p
	}
	es, err := store.OpenEventStore(dbPath, log)
	if err != nil {
		fmt.Fprintf(stderr, "open event store: %v\n", err)
		return 1
	}
	defer es.Close()
	fmt.Fprintf(stdout, "initialized kernel store at %s\n", root)
	return 0
}

func openStores(configPath string, log *zap.Logger, cfg *config.Config) (*store.ArtifactStore, *store.EventStore, error) {
	root := cfg.Store.Root
	if root == "" {
		r, err := store.DefaultRoot()
		if err != nil {
			return nil, nil, err
		}
		root = r
	}
	as, err := store.NewArtifactStore(root, cfg.Store.ArtifactMaxBytes, log)
	if err != nil {
		return nil, nil, err
	}
	dbPath := cfg.Store.DBPath
	if dbPath == "" {
		p, err := store.DefaultDBPath(root)
		if err != nil {
			return nil, nil, err
		}
		dbPath = p
	}
	es, err := store.OpenEventStore(dbPath, log)
	if err != nil {
		return nil, nil, err
	}
	return as, es, nil
}

func cmdNewRun(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("new-run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to kernel.toml")
	runID := fs.String("run-id", "", "run id (defaults to a fresh uuid v4)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg, log, code, ok := loadConfig(*configPath)
	if !ok {
		return code
	}
	defer log.Sync()
	_, es, err := openStores(*configPath, log, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "open stores: %v\n", err)
		return 1
	}
	defer es.Close()

	id := *runID
	if id == "" {
		id = ids.New()
	}
	row, err := es.CreateRun(id, nil)
	if err != nil {
		fmt.Fprintf(stderr, "create run: %v\n", err)
		return 1
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(row)
	return 0
}

func cmdAppendEvent(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("append-event", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to kernel.toml")
	runID := fs.String("run-id", "", "run id")
	eventType := fs.String("type", "", "event type")
	schemaVersion := fs.String("schema-version", "1.0.0", "event schema version")
	actorID := fs.String("actor-id", "", "actor id")
	actorType := fs.String("actor-type", "system", "actor type: human|system|worker")
	payloadFile := fs.String("payload-file", "", "path to a JSON payload file ('-' for stdin)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *runID == "" || *eventType == "" {
		fmt.Fprintln(stderr, "append-event requires -run-id and -type")
		return 2
	}
	cfg, log, code, ok := loadConfig(*configPath)
	if !ok {
		return code
	}
	defer log.Sync()
	_, es, err := openStores(*configPath, log, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "open stores: %v\n", err)
		return 1
	}
	defer es.Close()

	var payload map[string]any
	if *payloadFile != "" {
		var r io.Reader
		if *payloadFile == "-" {
			r = os.Stdin
		} else {
			f, err := os.Open(*payloadFile)
			if err != nil {
				fmt.Fprintf(stderr, "open payload file: %v\n", err)
				return 1
			}
			defer f.Close()
			r = f
		}
		if err := json.NewDecoder(r).Decode(&payload); err != nil {
			fmt.Fprintf(stderr, "decode payload: %v\n", err)
			return 2
		}
	}

	draft := store.EventDraft{
		EventID:       ids.New(),
		Type:          *eventType,
		SchemaVersion: *schemaVersion,
		Actor:         store.Actor{ActorID: *actorID, ActorType: *actorType},
		Payload:       payload,
	}
	ev, err := es.AppendEvent(*runID, draft)
	if err != nil {
		fmt.Fprintf(stderr, "append event: %v\n", err)
		return 1
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(ev)
	return 0
}

func cmdPutArtifact(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("put-artifact", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to kernel.toml")
	path := fs.String("file", "", "path to the artifact file ('-' for stdin)")
	mime := fs.String("mime", "application/octet-stream", "artifact mime type")
	label := fs.String("label", "", "artifact label")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *path == "" {
		fmt.Fprintln(stderr, "put-artifact requires -file")
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

	var data []byte
	if *path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(*path)
	}
	if err != nil {
		fmt.Fprintf(stderr, "read artifact: %v\n", err)
		return 1
	}
	rec, err := as.Put(data, *mime, *label)
	if err != nil {
		fmt.Fprintf(stderr, "put artifact: %v\n", err)
		return 1
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(rec)
	return 0
}

func cmdListEvents(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("list-events", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to kernel.toml")
	runID := fs.String("run-id", "", "run id")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *runID == "" {
		fmt.Fprintln(stderr, "list-events requires -run-id")
		return 2
	}
	cfg, log, code, ok := loadConfig(*configPath)
	if !ok {
		return code
	}
	defer log.Sync()
	_, es, err := openStores(*configPath, log, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "open stores: %v\n", err)
		return 1
	}
	defer es.Close()

	events, err := es.ListEvents(*runID)
	if err != nil {
		fmt.Fprintf(stderr, "list events: %v\n", err)
		return 1
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(events)
	return 0
}

func cmdVerifyRun(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("verify-run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to kernel.toml")
	runID := fs.String("run-id", "", "run id")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *runID == "" {
		fmt.Fprintln(stderr, "verify-run requires -run-id")
		return 2
	}
	cfg, log, code, ok := loadConfig(*configPath)
	if !ok {
		return code
	}
	defer log.Sync()
	_, es, err := openStores(*configPath, log, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "open stores: %v\n", err)
		return 1
	}
	defer es.Close()

	result, err := es.VerifyRunChain(*runID)
	if err != nil {
		fmt.Fprintf(stderr, "verify run: %v\n", err)
		return 1
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(result)
	if !result.Valid {
		return 1
	}
	return 0
}

// cmdVerifyEvidenceChain re-verifies an already-exported events.jsonl
// without touching the live event store: the supplemented operation
// a downstream consumer of an evidence archive runs independently.
func cmdVerifyEvidenceChain(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("verify-evidence-chain", flag.ContinueOnError)
	fs.SetOutput(stderr)
	eventsFile := fs.String("events-file", "", "path to an exported events.jsonl")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *eventsFile == "" {
		fmt.Fprintln(stderr, "verify-evidence-chain requires -events-file")
		return 2
	}
	data, err := os.ReadFile(*eventsFile)
	if err != nil {
		fmt.Fprintf(stderr, "read events file: %v\n", err)
		return 1
	}
	var events []store.StoredEvent
	dec := json.NewDecoder(bytes.NewReader(data))
	for {
		var ev store.StoredEvent
		if err := dec.Decode(&ev); err == io.EOF {
			break
		} else if err != nil {
			fmt.Fprintf(stderr, "decode event line: %v\n", err)
			return 1
		}
		events = append(events, ev)
	}
	result := evidence.VerifyChain(events)
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(result)
	if !result.Valid {
		return 1
	}
	return 0
}

func cmdExportEvidence(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("export-evidence", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to kernel.toml")
	runID := fs.String("run-id", "", "run id")
	outDir := fs.String("out", "", "output directory for the evidence archive")
	includeThreshold := fs.Int64("include-threshold", 0, "artifacts larger than this many bytes are manifest-only (0 = include all)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *runID == "" || *outDir == "" {
		fmt.Fprintln(stderr, "export-evidence requires -run-id and -out")
		return 2
	}
	cfg, log, code, ok := loadConfig(*configPath)
	if !ok {
		return code
	}
	defer log.Sync()
	as, es, err := openStores(*configPath, log, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "open stores: %v\n", err)
		return 1
	}
	defer es.Close()

	events, err := es.ListEvents(*runID)
	if err != nil {
		fmt.Fprintf(stderr, "list events: %v\n", err)
		return 1
	}
	chain, err := es.VerifyRunChain(*runID)
	if err != nil {
		fmt.Fprintf(stderr, "verify run chain: %v\n", err)
		return 1
	}

	manifest := evidence.Manifest{
		Run:              evidence.RunMeta{RunID: *runID, CreatedAt: ids.NowTimestamp()},
		Events:           events,
		Chain:            chain,
		IncludeThreshold: *includeThreshold,
	}
	result, err := evidence.Export(*outDir, manifest, as)
	if err != nil {
		fmt.Fprintf(stderr, "export evidence: %v\n", err)
		return 1
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(result)
	return 0
}
