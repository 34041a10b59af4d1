package verify

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// compileSpec carries everything cargo needs to produce bitcode for
// one verification run.
type compileSpec struct {
	CrateDir  string
	Package   string
	Features  []string
	Target    string
	TargetDir string
	Tests     bool
	Verbosity int

	// OptLevel adds -Copt-level=1; SeaHorn wants unoptimized code.
	OptLevel bool
}

// bitcodeFlags are the rustc flags that make cargo emit whole-crate
// LLVM bitcode suitable for the verification tools: LTO so the crate
// lands in one module, the verify cfg to select the shim libraries,
// aborting panics, overflow checks, and no vector instructions since
// KLEE cannot execute them.
func bitcodeFlags(optLevel bool) string {
	flags := []string{
		"-Clto",
		"-Cembed-bitcode=yes",
		"--emit=llvm-bc",
		"--cfg=verify",
		"-Zpanic_abort_tests",
		"-Cpanic=abort",
		"-Warithmetic-overflow",
		"-Coverflow-checks=yes",
		"-Cno-vectorize-loops",
		"-Cno-vectorize-slp",
		"-Ctarget-feature=-mmx,-sse,-sse2,-sse3,-ssse3,-sse4.1,-sse4.2,-3dnow,-3dnowa,-avx,-avx2",
		"-Clinker-plugin-lto",
		"-Clinker=clang-10",
		"-Clink-arg=-fuse-ld=lld",
	}
	joined := strings.Join(flags, " ")
	if optLevel {
		joined += " -Copt-level=1"
	}
	return MergeRustFlags(joined)
}

// compileCrate builds the crate with bitcode emission and locates the
// products: the crate's own .bc files under deps and any objects that
// build scripts compiled from C sources.
func compileCrate(ctx context.Context, logger *slog.Logger, spec compileSpec) ([]string, []string, error) {
	args := []string{"build"}
	if len(spec.Features) > 0 {
		args = append(args, "--features", strings.Join(spec.Features, ","))
	}
	if spec.Tests {
		args = append(args, "--tests")
	}
	args = append(args, "--target="+spec.Target)
	for i := 0; i < spec.Verbosity; i++ {
		args = append(args, "-v")
	}

	rustflags := bitcodeFlags(spec.OptLevel)
	env := []string{
		"RUSTFLAGS=" + rustflags,
		"CRATE_CC_NO_DEFAULTS=true",
		"CFLAGS=-flto=thin",
		"CC=clang-10",
	}
	logger.Debug("compiling with bitcode emission", "rustflags", rustflags)

	stdout, stderr, err := RunTool(ctx, logger, spec.CrateDir, env, "cargo", args...)
	if err != nil {
		LogLines(logger, "cargo stdout", string(stdout))
		LogLines(logger, "cargo stderr", string(stderr))
		return nil, nil, fmt.Errorf("cargo build: %w", err)
	}

	bcFiles, err := crateBitcode(spec.TargetDir, spec.Target, spec.Package)
	if err != nil {
		return nil, nil, err
	}
	objects := buildScriptObjects(spec.TargetDir, spec.Target)
	logger.Debug("located build products", "bitcode", bcFiles, "objects", objects)
	return bcFiles, objects, nil
}

// crateBitcode lists {target_dir}/{target}/debug/deps/{package}*.bc.
func crateBitcode(targetDir, target, pkg string) ([]string, error) {
	depsDir := filepath.Join(targetDir, target, "debug", "deps")
	entries, err := os.ReadDir(depsDir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", depsDir, err)
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, pkg) && filepath.Ext(name) == ".bc" {
			files = append(files, filepath.Join(depsDir, name))
		}
	}
	return files, nil
}

// buildScriptObjects lists {target_dir}/{target}/debug/build/*/out/*.o,
// the objects cc-rs style build scripts leave behind.
func buildScriptObjects(targetDir, target string) []string {
	buildDir := filepath.Join(targetDir, target, "debug", "build")
	entries, err := os.ReadDir(buildDir)
	if err != nil {
		return nil
	}
	var objects []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		outDir := filepath.Join(buildDir, e.Name(), "out")
		outs, err := os.ReadDir(outDir)
		if err != nil {
			continue
		}
		for _, o := range outs {
			if o.Type().IsRegular() && filepath.Ext(o.Name()) == ".o" {
				objects = append(objects, filepath.Join(outDir, o.Name()))
			}
		}
	}
	return objects
}

// linkBitcode merges the rust bitcode with build script objects into a
// single module.
func linkBitcode(ctx context.Context, logger *slog.Logger, dir, outFile string, inputs []string) error {
	args := append([]string{"-o", outFile}, inputs...)
	_, stderr, err := RunTool(ctx, logger, dir, nil, "llvm-link", args...)
	if err != nil {
		LogLines(logger, "llvm-link stderr", string(stderr))
		return fmt.Errorf("llvm-link: %w", err)
	}
	return nil
}

// patchBitcode rewrites a bitcode file for a backend: hooking panics
// into verifier intrinsics, arranging for initializers to run, and so
// on.
func patchBitcode(ctx context.Context, logger *slog.Logger, options []string, bcFile, outFile string) error {
	args := append([]string{bcFile, "-o", outFile}, options...)
	_, stderr, err := RunTool(ctx, logger, "", nil, "rvt-patch-llvm", args...)
	if err != nil {
		LogLines(logger, "rvt-patch-llvm stderr", string(stderr))
		return fmt.Errorf("rvt-patch-llvm: %w", err)
	}
	return nil
}

// patchedName derives the output name for a patched bitcode file:
// linked.bc becomes linked.<label>.bc.
func patchedName(bcFile, label string) string {
	ext := filepath.Ext(bcFile)
	return strings.TrimSuffix(bcFile, ext) + "." + label + ext
}
