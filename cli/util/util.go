package util

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"runtime/debug"
	"strings"

	"github.com/apex/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// ArgError is used when the arguments of a command are wrong.
type ArgError struct {
	text string
}

func (e ArgError) Error() string {
	return e.text
}

// NewArgError creates new ArgError with text.
func NewArgError(text string) error {
	return &ArgError{text}
}

// VersionFunc is a type of function that return
// string with current hermit version.
type VersionFunc func(bool, bool) string

// InternalError shows error information, version of hermit and call stack.
func InternalError(format string, f VersionFunc, err ...interface{}) error {
	errorFmt := `whoops! It looks like something is wrong with this version of hermit.
Error: %s
Version: %s
Stacktrace:
%s`
	version := f(false, false)

	return fmt.Errorf(errorFmt, fmt.Sprintf(format, err...), version, debug.Stack())
}

// ParseYAML parse yaml file at specified path.
func ParseYAML(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", path, err)
	}

	raw := make(map[string]interface{})
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse YAML %q: %w", path, err)
	}

	return raw, nil
}

// WriteYaml writes the object as YAML to the file, creating or truncating it.
func WriteYaml(fileName string, o interface{}) error {
	data, err := yaml.Marshal(o)
	if err != nil {
		return err
	}

	return os.WriteFile(fileName, data, 0644)
}

// GetHomeDir returns current home directory.
func GetHomeDir() (string, error) {
	usr, err := user.Current()
	if err != nil {
		return "", err
	}

	return usr.HomeDir, nil
}

// ExpandHome replaces the leading "~" of the path with the home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	homeDir, err := GetHomeDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(homeDir, strings.TrimPrefix(path, "~")), nil
}

// IsRegularFile checks if filePath is a regular file. Returns false in case of error.
func IsRegularFile(filePath string) bool {
	fileInfo, err := os.Stat(filePath)
	if err != nil {
		return false
	}

	return fileInfo.Mode().IsRegular()
}

// CreateSymlink creates newName as a symbolic link to oldName. Overwrites existing if overwrite flag is set.
func CreateSymlink(oldName, newName string, overwrite bool) error {
	if _, err := os.Lstat(newName); err == nil {
		if !overwrite {
			return fmt.Errorf("symbolic link cannot be created: '%s' already exists", newName)
		}
		log.Debugf("Replace existing '%s' with new symlink.", newName)
		if err := os.Remove(newName); err != nil {
			return err
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("symbolic link cannot be created: %s", err)
	}

	return os.Symlink(oldName, newName)
}

// CreateDirectory create a directory with existence and error checks.
func CreateDirectory(dirName string, fileMode os.FileMode) error {
	if _, err := os.Stat(dirName); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("unable to get access to directory %q: %w", dirName, err)
		}
		if err := os.MkdirAll(dirName, fileMode); err != nil {
			return fmt.Errorf("unable to create directory %q: %w", dirName, err)
		}
	}

	return nil
}

// HandleCmdErr handles an error returned by command implementation.
// If received error is of an ArgError type, usage help is printed.
func HandleCmdErr(cmd *cobra.Command, err error) {
	if err == nil {
		return
	}
	var argError *ArgError
	if errors.As(err, &argError) {
		log.Error(argError.Error())
		cmd.Usage()
		os.Exit(1)
	}
	if errors.Is(err, ErrCmdAbort) {
		os.Exit(1)
	}
	log.Fatalf("%s", err.Error())
}

// AskValue prints the question to writer and returns the answer line read
// from reader without surrounding spaces.
func AskValue(reader io.Reader, writer io.Writer, question string) (string, error) {
	fmt.Fprint(writer, question)
	resp, err := bufio.NewReader(reader).ReadString('\n')
	resp = strings.TrimSpace(resp)
	if err != nil && !(errors.Is(err, io.EOF) && resp != "") {
		return "", ErrCmdAbort
	}
	return resp, nil
}
