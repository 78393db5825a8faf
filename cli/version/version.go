package version

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"

	goVersion "github.com/hashicorp/go-version"
)

const (
	unknownVersion  = "<unknown>"
	cliVersionTitle = "hermit"
)

// Get the value of this variables at build time.
// See magefile for more details.
var (
	gitTag       string
	gitCommit    string
	versionLabel string
)

// normalize returns the dotted numeric form of tag, or tag itself if it is
// not a version.
func normalize(tag string) string {
	parsed, err := goVersion.NewVersion(tag)
	if err != nil {
		return tag
	}
	segments := make([]string, 0, len(parsed.Segments()))
	for _, num := range parsed.Segments() {
		segments = append(segments, strconv.Itoa(num))
	}
	version := strings.Join(segments, ".")
	if pre := parsed.Prerelease(); pre != "" {
		version += "-" + pre
	}
	return version
}

// GetVersion return string with hermit version info.
func GetVersion(showShort bool, needCommit bool) string {
	version := unknownVersion
	if gitTag != "" {
		version = normalize(gitTag)
		if versionLabel != "" {
			version = fmt.Sprintf("%s/%s", version, versionLabel)
		}
	}

	if needCommit {
		return fmt.Sprintf("%s.%s", version, gitCommit)
	}
	if showShort {
		return version
	}

	return fmt.Sprintf(
		"%s version %s, %s/%s. commit: %s",
		cliVersionTitle, version, runtime.GOOS, runtime.GOARCH, gitCommit,
	)
}
