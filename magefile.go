//go:build mage
// +build mage

package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/apex/log"
	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	goPackageName = "github.com/hermitcrab/hermit/cli"

	asmflags = "all=-trimpath=${PWD}"
	gcflags  = "all=-trimpath=${PWD}"

	packagePath = "./cli"
)

var (
	ldflags = []string{
		"-X ${PACKAGE}/version.gitTag=${GIT_TAG}",
		"-X ${PACKAGE}/version.gitCommit=${GIT_COMMIT}",
		"-X ${PACKAGE}/version.versionLabel=${VERSION_LABEL}",
	}
	goExecutableName     = "go"
	hermitExecutableName = "hermit"

	Aliases = map[string]any{
		"build": Build.Release,
		"unit":  Unit.Default,
	}
)

func init() {
	var err error

	if specifiedGoExe := os.Getenv("GOEXE"); specifiedGoExe != "" {
		goExecutableName = specifiedGoExe
	}

	if specifiedExe := os.Getenv("HERMITEXE"); specifiedExe != "" {
		hermitExecutableName = specifiedExe
	} else {
		if hermitExecutableName, err = filepath.Abs(hermitExecutableName); err != nil {
			panic(err)
		}
	}
}

type optsUpdater func([]string) ([]string, error)

// appendFlags appends flags passed in args.
func appendFlags(flags ...string) optsUpdater {
	return func(args []string) ([]string, error) {
		return append(args, flags...), nil
	}
}

// appendLdFlags appends linker flags.
func appendLdFlags(flags ...string) optsUpdater {
	return func(args []string) ([]string, error) {
		buildLdflags := make([]string, len(ldflags))
		copy(buildLdflags, ldflags)
		buildLdflags = append(buildLdflags, flags...)
		return append(append(args, "-ldflags"), strings.Join(buildLdflags, " ")), nil
	}
}

// appendTags appends tags.
func appendTags(args []string) ([]string, error) {
	tags := []string{"netgo", "osusergo"}
	return append(append(args, "-tags"), strings.Join(tags, ",")), nil
}

// Building hermit executable.
func buildHermit(argUpdaters ...optsUpdater) error {
	args := []string{"build", "-o", hermitExecutableName}
	var err error
	for _, updateArguments := range argUpdaters {
		if args, err = updateArguments(args); err != nil {
			return err
		}
	}
	args = append(args,
		"-asmflags", asmflags,
		"-gcflags", gcflags,
		packagePath)
	err = sh.RunWith(getBuildEnvironment(), goExecutableName, args...)
	if err != nil {
		return fmt.Errorf("Failed to build hermit executable: %s", err)
	}

	return nil
}

type Build mg.Namespace

// Building release hermit executable without debug info.
func (Build) Release() error {
	fmt.Println("Building release hermit...")

	return buildHermit(appendTags, appendLdFlags("-s", "-w"))
}

// Building debug hermit executable.
func (Build) Debug() error {
	fmt.Println("Building debug hermit...")

	return buildHermit(appendTags, appendLdFlags())
}

// Building hermit executable with coverage.
func (Build) Coverage() error {
	fmt.Println("Building release hermit with coverage...")

	err := buildHermit(appendFlags("-cover"), appendTags, appendLdFlags("-s", "-w"))
	if err != nil {
		return err
	}
	fmt.Println(`Set coverage data destination directory (must exist) and run hermit:
	GOCOVERDIR=./<coverage_dest_dir> hermit <opts>`)
	return nil
}

// Run golang linters.
func Lint() error {
	fmt.Println("Running golangci-lint...")

	return sh.RunV("golangci-lint", "run")
}

type Unit mg.Namespace

func runUnitTests(flags []string) error {
	args := []string{"test"}
	if mg.Verbose() {
		args = append(args, "-v")
	}
	args = append(args, "./...")
	args = append(args, flags...)

	return sh.RunV(goExecutableName, args...)
}

// Run unit tests.
func (Unit) Default() error {
	fmt.Println("Running unit tests...")

	return runUnitTests([]string{})
}

// Run unit tests with a docker daemon integration.
func (Unit) Full() error {
	fmt.Println("Running full unit tests...")

	return runUnitTests([]string{"-tags", "integration_docker"})
}

// Run full unit tests set with code coverage.
func (Unit) Coverage() error {
	fmt.Println("Running full unit tests with code coverage...")

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	coverDir := filepath.Join(cwd, "coverage", "unit")
	if err := os.MkdirAll(coverDir, 0o750); err != nil {
		return err
	}

	return runUnitTests([]string{
		"-tags", "integration_docker",
		"-cover",
		"-args", fmt.Sprintf(`-test.gocoverdir=%s`, coverDir),
	})
}

// Run linters and unit tests.
func Test() {
	mg.SerialDeps(Lint, Unit.Default)
}

// Cleanup directory.
func Clean() {
	fmt.Println("Cleaning directory...")

	os.Remove(hermitExecutableName)
}

// getBuildEnvironment return map with build environment variables.
func getBuildEnvironment() map[string]string {
	var err error

	var currentDir string
	var gitTag string
	var gitCommit string

	if currentDir, err = os.Getwd(); err != nil {
		log.Warnf("Failed to get current directory: %s", err)
	}

	if _, err := exec.LookPath("git"); err == nil {
		gitTag, _ = sh.Output("git", "describe", "--tags")
		gitCommit, _ = sh.Output("git", "rev-parse", "--short", "HEAD")
	}

	return map[string]string{
		"PACKAGE":       goPackageName,
		"GIT_TAG":       gitTag,
		"GIT_COMMIT":    gitCommit,
		"VERSION_LABEL": os.Getenv("VERSION_LABEL"),
		"PWD":           currentDir,
		"CGO_ENABLED":   "0",
	}
}
