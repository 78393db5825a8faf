// Package bootlog infers instance readiness from the boot log written by the
// instance startup scripts and waits for that log to report a listening sshd.
package bootlog

import (
	"fmt"
	"regexp"
	"strconv"
)

const (
	// StatusCheckStarted is reported once the filesystem check has begun.
	StatusCheckStarted = "Starting check filesystem"
	// StatusCheckFinished is reported once the filesystem check is over.
	StatusCheckFinished = "Finished checking filesystem"

	// maxContainerStartFailures is the number of failed sshd container
	// starts after which the image is considered unusable.
	maxContainerStartFailures = 3
)

var (
	checkStartedRe  = regexp.MustCompile(`(?m)^(?:Starting check filesystem|Checking filesystem)`)
	checkFinishedRe = regexp.MustCompile(`(?m)^Finished checking filesystem`)
	// fsck -C progress record: 5 3199 3200 /dev/sdb
	progressRe    = regexp.MustCompile(`(?m)^(\d+) (\d+) (\d+) (\S+)$`)
	pullingRe     = regexp.MustCompile(`(?m)(Pulling from \S+)$`)
	downloadedRe  = regexp.MustCompile(`(?m)^(Status: Downloaded newer image for \S+)$`)
	listeningRe   = regexp.MustCompile(`(?m)^(Server listening on 0\.0\.0\.0.*)$`)
	badSuperblock = regexp.MustCompile(`The superblock could not be read`)
	missingSSHDRe = regexp.MustCompile(`exec: "[^"]*sshd": stat [^:]*sshd: no such file or directory`)
)

// Result is the outcome of parsing the accumulated boot log.
type Result struct {
	// Ready is set once sshd in the container reports it is listening.
	Ready bool
	// Status holds the status lines derived from the whole log, in a
	// fixed order. Callers must dedupe lines already shown.
	Status []string
}

// Parse derives readiness and status lines from the full boot log text. The
// checks are presence based, so parsing a log twice as long because it was
// duplicated yields the same result. A *FatalBootError is returned when the
// log shows the instance can never become reachable.
func Parse(log string) (Result, error) {
	var res Result

	if badSuperblock.MatchString(log) {
		return res, &FatalBootError{
			Reason: ReasonUnreadableFilesystem,
			Detail: "the persistent disk superblock could not be read; the disk is either " +
				"not formatted or corrupt",
		}
	}
	if failures := len(missingSSHDRe.FindAllStringIndex(log, -1)); failures >= maxContainerStartFailures {
		return res, &FatalBootError{
			Reason: ReasonMissingSSHD,
			Detail: fmt.Sprintf("the container failed to start %d times because the image "+
				"has no sshd binary", failures),
		}
	}

	started := checkStartedRe.MatchString(log)
	if started {
		res.Status = append(res.Status, StatusCheckStarted)
	}
	finished := checkFinishedRe.MatchString(log)
	if finished {
		res.Status = append(res.Status, StatusCheckFinished)
	}
	if started && !finished {
		if line, ok := lastProgress(log); ok {
			res.Status = append(res.Status, line)
		}
	}

	for _, re := range []*regexp.Regexp{pullingRe, downloadedRe} {
		if m := re.FindStringSubmatch(log); m != nil {
			res.Status = append(res.Status, m[1])
		}
	}

	if m := listeningRe.FindStringSubmatch(log); m != nil {
		res.Status = append(res.Status, m[1])
		res.Ready = true
	}

	return res, nil
}

// lastProgress formats the last fsck progress record of the log.
func lastProgress(log string) (string, bool) {
	matches := progressRe.FindAllStringSubmatch(log, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		phase, err := strconv.Atoi(matches[i][1])
		if err != nil {
			continue
		}
		current, err := strconv.ParseInt(matches[i][2], 10, 64)
		if err != nil {
			continue
		}
		total, err := strconv.ParseInt(matches[i][3], 10, 64)
		if err != nil || total <= 0 {
			continue
		}
		return fmt.Sprintf("Progress (Phase %d): %d%%", phase, current*100/total), true
	}
	return "", false
}
