package tail

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/nxadm/tail"
)

const (
	blockSize       = 8192
	linesBufferSize = 64
	// sessionPrefix starts the header line written by the tunnel supervisor
	// for every tunnel process it launches.
	sessionPrefix = "--- hermit tunnel session"
)

// LineFormatter transforms a log line before it is printed.
type LineFormatter func(line string) string

// PlainFormatter returns lines unchanged.
func PlainFormatter(line string) string {
	return line
}

// NewSessionFormatter highlights tunnel session headers, so separate runs of
// the tunnel are easy to tell apart in a shared log.
func NewSessionFormatter(header *color.Color) LineFormatter {
	return func(line string) string {
		if strings.HasPrefix(line, sessionPrefix) {
			return header.Sprint(line)
		}
		return line
	}
}

// newTailReader positions reader at the beginning of the last count lines and
// returns a reader limited to them along with the start offset.
func newTailReader(ctx context.Context, reader io.ReadSeeker, count int) (io.Reader, int64, error) {
	end, err := reader.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, 0, err
	}
	if count <= 0 {
		return &io.LimitedReader{R: reader, N: 0}, end, nil
	}

	start := end
	// The trailing byte is not inspected: "line\n" is one line, not two.
	offset := end - 1
	buf := make([]byte, blockSize)
	found := 0
	for offset > 0 && found < count {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}

		chunk := min(int64(len(buf)), offset)
		offset -= chunk
		if _, err := reader.Seek(offset, io.SeekStart); err != nil {
			return nil, 0, err
		}
		n, err := io.ReadFull(reader, buf[:chunk])
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, 0, fmt.Errorf("failed to read: %w", err)
		}

		for i := n - 1; i >= 0 && found < count; i-- {
			if buf[i] != '\n' {
				continue
			}
			start = offset + int64(i) + 1
			found++
		}
	}
	if found < count {
		start = 0
	}

	if _, err := reader.Seek(start, io.SeekStart); err != nil {
		return nil, 0, err
	}
	return &io.LimitedReader{R: reader, N: end - start}, start, nil
}

// LastLines returns the last n lines of the file.
func LastLines(fileName string, n int) ([]string, error) {
	file, err := os.Open(fileName)
	if err != nil {
		return nil, fmt.Errorf("cannot open %q: %w", fileName, err)
	}
	defer file.Close()

	reader, _, err := newTailReader(context.Background(), file, n)
	if err != nil {
		return nil, err
	}
	lines := []string{}
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

// TailN sends the last n lines of the file to the returned channel. The
// channel is closed after the last line.
func TailN(ctx context.Context, format LineFormatter, fileName string, n int) (<-chan string,
	error) {
	if n < 0 {
		return nil, fmt.Errorf("negative lines count is not supported")
	}

	file, err := os.Open(fileName)
	if err != nil {
		return nil, fmt.Errorf("cannot open %q: %w", fileName, err)
	}

	reader, _, err := newTailReader(ctx, file, n)
	if err != nil {
		file.Close()
		return nil, err
	}

	out := make(chan string, linesBufferSize)
	go func() {
		defer close(out)
		defer file.Close()
		scanner := bufio.NewScanner(reader)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			case out <- format(scanner.Text()):
			}
		}
	}()
	return out, nil
}

// Follow sends the last n lines of the file and then every line appended to
// it until ctx is done. The file is reopened when it is recreated, which
// happens when a tunnel log is removed together with a stale record.
func Follow(ctx context.Context, format LineFormatter, fileName string, n int) (<-chan string,
	error) {
	file, err := os.Open(fileName)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("log file %q not found", fileName)
		}
		return nil, fmt.Errorf("cannot open %q: %w", fileName, err)
	}
	_, start, err := newTailReader(ctx, file, n)
	file.Close()
	if err != nil {
		return nil, err
	}

	t, err := tail.TailFile(fileName, tail.Config{
		Location:  &tail.SeekInfo{Offset: start, Whence: io.SeekStart},
		MustExist: true,
		Follow:    true,
		ReOpen:    true,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return nil, err
	}

	out := make(chan string, linesBufferSize)
	go func() {
		defer close(out)
		defer t.Cleanup()
		for {
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case line, ok := <-t.Lines:
				if !ok {
					return
				}
				if line.Err != nil {
					continue
				}
				select {
				case out <- format(line.Text):
				case <-ctx.Done():
					t.Stop()
					return
				}
			}
		}
	}()
	return out, nil
}
