// Command shardctl is the CLI surface over the compiler, verifier,
// registry, lockfile, and mount runtime (§6 "CLI surface"). Every verb
// prints its result to stdout and maps its outcome onto the fixed exit
// code table; shardctl never itself weakens an invariant a library
// package already enforces.
package main

import (
	"bufio"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BigBirdReturns/axm-core/pkg/auditlog"
	"github.com/BigBirdReturns/axm-core/pkg/compiler"
	"github.com/BigBirdReturns/axm-core/pkg/config"
	"github.com/BigBirdReturns/axm-core/pkg/lockfile"
	"github.com/BigBirdReturns/axm-core/pkg/mount"
	"github.com/BigBirdReturns/axm-core/pkg/registry"
	"github.com/BigBirdReturns/axm-core/pkg/suite"
	"github.com/BigBirdReturns/axm-core/pkg/telemetry"
	"github.com/BigBirdReturns/axm-core/pkg/verifier"
)

// Exit codes (§6).
const (
	exitPass            = 0
	exitOther           = 1
	exitRegistryError   = 2
	exitVerifyFail      = 3
	exitShardMissing    = 4
	exitMountUnreachable = 5
	exitCompileFail     = 6
)

func main() {
	shutdown, err := telemetry.InitFromEnv(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "telemetry:", err)
		os.Exit(exitOther)
	}
	defer shutdown(context.Background())
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: shardctl <compile|verify|resolve|pin|alias|history|list|mount> ...")
		return exitOther
	}
	log := slog.Default()

	verb := args[0]
	rest := args[1:]
	switch verb {
	case "compile":
		return cmdCompile(rest, log)
	case "verify":
		return cmdVerify(rest, log)
	case "resolve":
		return cmdResolve(rest, log)
	case "pin":
		return cmdPin(rest, log)
	case "alias":
		return cmdAlias(rest, log)
	case "history":
		return cmdHistory(rest, log)
	case "list":
		return cmdList(rest, log)
	case "mount":
		return cmdMount(rest, log)
	default:
		fmt.Fprintf(os.Stderr, "shardctl: unknown verb %q\n", verb)
		return exitOther
	}
}

func openAudit(registryPath string) *auditlog.Log {
	l, err := auditlog.Open(registryPath + ".audit.jsonl")
	if err != nil {
		return nil
	}
	return l
}

// --- compile ---------------------------------------------------------

func cmdCompile(args []string, log *slog.Logger) int {
	fs := flag.NewFlagSet("compile", flag.ContinueOnError)
	candidatesPath := fs.String("candidates", "", "path to line-delimited JSON candidates")
	outDir := fs.String("out", "", "output shard directory")
	namespace := fs.String("namespace", "", "entity namespace")
	publisherID := fs.String("publisher-id", "", "publisher id")
	publisherName := fs.String("publisher-name", "", "publisher name")
	createdAt := fs.String("created-at", "", "ISO8601 creation timestamp")
	suiteName := fs.String("suite", suite.NameEd25519, "signing suite")
	keyPath := fs.String("key", "", "path to an existing raw private key; generated if absent")
	title := fs.String("title", "", "shard title (defaults to source file name)")
	if err := fs.Parse(args); err != nil {
		return exitOther
	}
	if fs.NArg() != 1 || *candidatesPath == "" || *outDir == "" {
		fmt.Fprintln(os.Stderr, "usage: shardctl compile <source> --candidates <path> --out <dir> --namespace <ns> --publisher-id <id> --publisher-name <name> --created-at <iso8601> [--suite ed25519|axm-blake3-mldsa44] [--key <path>]")
		return exitOther
	}
	sourcePath := fs.Arg(0)

	sourceBytes, err := os.ReadFile(sourcePath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitCompileFail
	}
	candidates, err := readCandidates(*candidatesPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitCompileFail
	}
	ts, err := time.Parse(time.RFC3339, *createdAt)
	if err != nil {
		fmt.Fprintln(os.Stderr, "compile: --created-at must be ISO8601:", err)
		return exitCompileFail
	}

	sch, err := suite.Get(*suiteName)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitCompileFail
	}
	var kp *suite.KeyPair
	if *keyPath != "" {
		priv, err := os.ReadFile(*keyPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitCompileFail
		}
		kp = &suite.KeyPair{Private: priv}
		pub, err := derivePublic(sch, priv)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitCompileFail
		}
		kp.Public = pub
	}

	t := *title
	if t == "" {
		t = sourcePath
	}

	shardID, err := compiler.Compile(string(sourceBytes), candidates, compiler.Config{
		OutDir: *outDir, Key: kp, Suite: *suiteName,
		PublisherID: *publisherID, PublisherName: *publisherName,
		Namespace: *namespace, Title: t, CreatedAt: ts, Logger: log,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "compile failed:", err)
		return exitCompileFail
	}
	fmt.Println(shardID)
	return exitPass
}

// derivePublic recomputes the public key for a caller-supplied private
// key path. ed25519's seed-based keys support deterministic recovery;
// ML-DSA-44 private keys do not encode their public half, so --key is
// rejected for every suite other than ed25519.
func derivePublic(sch suite.Suite, priv []byte) ([]byte, error) {
	if sch.Name() != suite.NameEd25519 {
		return nil, fmt.Errorf("compile: --key recovery is only supported for ed25519; omit --key to generate a fresh key pair for %s", sch.Name())
	}
	if len(priv) != ed25519.SeedSize {
		return nil, fmt.Errorf("compile: ed25519 --key file must hold a %d-byte seed", ed25519.SeedSize)
	}
	return []byte(ed25519.NewKeyFromSeed(priv).Public().(ed25519.PublicKey)), nil
}

func readCandidates(path string) ([]compiler.Candidate, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read candidates: %w", err)
	}
	defer f.Close()

	var out []compiler.Candidate
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var raw struct {
			Subject    string   `json:"subject"`
			Predicate  string   `json:"predicate"`
			Object     string   `json:"object"`
			ObjectType string   `json:"object_type"`
			Evidence   string   `json:"evidence"`
			Tier       int8     `json:"tier"`
			Confidence *float64 `json:"confidence"`
			Locator    *struct {
				Kind           string `json:"kind"`
				PageIndex      *int16 `json:"page_index"`
				ParagraphIndex *int32 `json:"paragraph_index"`
				BlockID        string `json:"block_id"`
				FilePath       string `json:"file_path"`
			} `json:"locator"`
		}
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			return nil, fmt.Errorf("read candidates: parse line: %w", err)
		}
		c := compiler.Candidate{
			Subject: raw.Subject, Predicate: raw.Predicate, Object: raw.Object,
			ObjectType: raw.ObjectType, Evidence: raw.Evidence, Tier: raw.Tier, Confidence: raw.Confidence,
		}
		if raw.Locator != nil {
			c.Locator = &compiler.CandidateLocator{
				Kind: raw.Locator.Kind, PageIndex: raw.Locator.PageIndex,
				ParagraphIndex: raw.Locator.ParagraphIndex, BlockID: raw.Locator.BlockID, FilePath: raw.Locator.FilePath,
			}
		}
		out = append(out, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read candidates: %w", err)
	}
	return out, nil
}

// --- verify ------------------------------------------------------------

func cmdVerify(args []string, log *slog.Logger) int {
	if len(args) == 0 || args[0] != "shard" {
		fmt.Fprintln(os.Stderr, "usage: shardctl verify shard <dir> --trusted-key <path>")
		return exitOther
	}
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	trustedKeyPath := fs.String("trusted-key", "", "path to the trusted public key")
	if err := fs.Parse(args[1:]); err != nil {
		return exitOther
	}
	if fs.NArg() != 1 || *trustedKeyPath == "" {
		fmt.Fprintln(os.Stderr, "usage: shardctl verify shard <dir> --trusted-key <path>")
		return exitOther
	}
	dir := fs.Arg(0)

	trustedKey, err := os.ReadFile(*trustedKeyPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitShardMissing
	}
	if _, err := os.Stat(dir); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitShardMissing
	}

	report, err := verifier.VerifyShard(dir, trustedKey)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitOther
	}
	out, _ := report.ToJSON()
	fmt.Println(string(out))
	if report.Status != verifier.StatusPass {
		return exitVerifyFail
	}
	return exitPass
}

// --- registry-backed verbs ----------------------------------------------

func cmdResolve(args []string, log *slog.Logger) int {
	fs := flag.NewFlagSet("resolve", flag.ContinueOnError)
	registryPath := fs.String("registry", "", "path to the registry document")
	lockPath := fs.String("lock", "", "path to a lockfile")
	if err := fs.Parse(args); err != nil {
		return exitOther
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: shardctl resolve <ref> [--registry <path>] [--lock <lockfile>]")
		return exitOther
	}
	ref := fs.Arg(0)

	if *lockPath != "" {
		lf, err := lockfile.Read(*lockPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitRegistryError
		}
		shardID, err := lf.Resolve(ref)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitRegistryError
		}
		fmt.Println(shardID)
		return exitPass
	}

	cfg, err := config.Resolve(config.Flags{RegistryPath: *registryPath})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitRegistryError
	}
	reg, err := registry.Open(cfg.RegistryPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitRegistryError
	}
	shardID, err := reg.Resolve(ref)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitRegistryError
	}
	fmt.Println(shardID)
	return exitPass
}

func cmdPin(args []string, log *slog.Logger) int {
	fs := flag.NewFlagSet("pin", flag.ContinueOnError)
	out := fs.String("out", "", "lockfile output path")
	registryPath := fs.String("registry", "", "path to the registry document")
	if err := fs.Parse(args); err != nil {
		return exitOther
	}
	if fs.NArg() == 0 || *out == "" {
		fmt.Fprintln(os.Stderr, "usage: shardctl pin <ref>... --out <lockfile> [--registry <path>]")
		return exitOther
	}

	cfg, err := config.Resolve(config.Flags{RegistryPath: *registryPath})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitRegistryError
	}
	reg, err := registry.Open(cfg.RegistryPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitRegistryError
	}
	lf, err := lockfile.Pin(reg, fs.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitRegistryError
	}
	if err := lockfile.Write(*out, lf); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitRegistryError
	}
	if al := openAudit(cfg.RegistryPath); al != nil {
		_, _ = al.Append(auditlog.EntryTypeLockfile, *out, "pinned", lf.Pins, nil)
		al.Close()
	}
	return exitPass
}

func cmdAlias(args []string, log *slog.Logger) int {
	fs := flag.NewFlagSet("alias", flag.ContinueOnError)
	registryPath := fs.String("registry", "", "path to the registry document")
	if err := fs.Parse(args); err != nil {
		return exitOther
	}
	if fs.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "usage: shardctl alias <ref> <alias> [--registry <path>]")
		return exitOther
	}
	ref, alias := fs.Arg(0), fs.Arg(1)

	cfg, err := config.Resolve(config.Flags{RegistryPath: *registryPath})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitRegistryError
	}
	reg, err := registry.Open(cfg.RegistryPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitRegistryError
	}
	if err := reg.AddAlias(ref, alias); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitRegistryError
	}
	return exitPass
}

func cmdHistory(args []string, log *slog.Logger) int {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	registryPath := fs.String("registry", "", "path to the registry document")
	if err := fs.Parse(args); err != nil {
		return exitOther
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: shardctl history <ref> [--registry <path>]")
		return exitOther
	}

	cfg, err := config.Resolve(config.Flags{RegistryPath: *registryPath})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitRegistryError
	}
	reg, err := registry.Open(cfg.RegistryPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitRegistryError
	}
	history, err := reg.ListHistory(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitRegistryError
	}
	out, _ := json.MarshalIndent(history, "", "  ")
	fmt.Println(string(out))
	return exitPass
}

func cmdList(args []string, log *slog.Logger) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	tag := fs.String("tag", "", "filter by tag")
	registryPath := fs.String("registry", "", "path to the registry document")
	if err := fs.Parse(args); err != nil {
		return exitOther
	}

	cfg, err := config.Resolve(config.Flags{RegistryPath: *registryPath})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitRegistryError
	}
	reg, err := registry.Open(cfg.RegistryPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitRegistryError
	}
	out, _ := json.MarshalIndent(reg.List(*tag), "", "  ")
	fmt.Println(string(out))
	return exitPass
}

// --- mount ---------------------------------------------------------------

func cmdMount(args []string, log *slog.Logger) int {
	fs := flag.NewFlagSet("mount", flag.ContinueOnError)
	noVerify := fs.Bool("no-verify", false, "not supported: every mount is verified, and passing this flag fails the command")
	trustedKeyPath := fs.String("trusted-key", "", "path to the trusted public key")
	shardStore := fs.String("shard-store", "", "directory containing shard subdirectories keyed by shard_id")
	registryPath := fs.String("registry", "", "path to the registry document")
	if err := fs.Parse(args); err != nil {
		return exitOther
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: shardctl mount <ref> [--no-verify] [--trusted-key <path>] [--registry <path>]")
		return exitOther
	}
	ref := fs.Arg(0)

	cfg, err := config.Resolve(config.Flags{ShardStore: *shardStore, TrustedKey: *trustedKeyPath, RegistryPath: *registryPath})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitRegistryError
	}
	if *noVerify {
		fmt.Fprintln(os.Stderr, "mount: --no-verify is not supported; every mount is verified (§4.10)")
		return exitOther
	}
	if cfg.TrustedKey == "" {
		fmt.Fprintln(os.Stderr, "mount: --trusted-key is required")
		return exitOther
	}
	trustedKey, err := os.ReadFile(cfg.TrustedKey)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitShardMissing
	}

	// Resolve ref through the registry the same way cmdResolve does — a
	// registered name or alias must mount exactly as it resolves. A ref
	// that isn't registered falls through unchanged, so a literal
	// shard-store-relative path (or shard_id with no registry entry) still
	// mounts directly.
	shardID := ref
	if reg, err := registry.Open(cfg.RegistryPath); err == nil {
		if resolved, err := reg.Resolve(ref); err == nil {
			shardID = resolved
		}
	}

	shardDir := shardID
	if !strings.HasPrefix(shardID, "/") && !strings.HasPrefix(shardID, ".") {
		shardDir = cfg.ShardStore + string(os.PathSeparator) + shardID
	}
	if _, err := os.Stat(shardDir); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitShardMissing
	}

	rt := mount.NewRuntime()
	session, err := rt.Mount(shardDir, trustedKey)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, mount.ErrVerificationFailed) {
			return exitVerifyFail
		}
		return exitMountUnreachable
	}
	fmt.Printf("mounted %s as %s (%d table(s))\n", session.ShardID, session.MountID, len(session.Tables))
	return exitPass
}
