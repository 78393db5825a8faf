package idle

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"slices"
	"strconv"
	"strings"
)

// ByteCounter samples a cumulative transmitted byte counter.
type ByteCounter interface {
	Sample(ctx context.Context) (int64, error)
}

// IptablesCounter reads the byte counter of a packet filter accounting rule.
type IptablesCounter struct {
	// Chain is the iptables chain holding the accounting rule.
	Chain string
	// Port selects the rule matching "dpt:<Port>". Zero selects the first rule.
	Port int
	// Bin is the iptables executable.
	Bin string
}

// NewIptablesCounter creates a counter over the chain rule of the port.
func NewIptablesCounter(chain string, port int) *IptablesCounter {
	return &IptablesCounter{Chain: chain, Port: port, Bin: "iptables"}
}

// Sample runs `iptables -nvxL <chain>` and parses the rule byte counter.
func (c *IptablesCounter) Sample(ctx context.Context) (int64, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Bin, "-nvxL", c.Chain)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("failed to list chain %s: %w: %s", c.Chain, err,
			strings.TrimSpace(stderr.String()))
	}
	return ParseIptablesBytes(string(out), c.Port)
}

// ParseIptablesBytes extracts the bytes column of the accounting rule from
// verbose exact iptables listing:
//
//	Chain CONTAINER_SSH (1 references)
//	    pkts      bytes target     prot opt in     out     source               destination
//	      61    12560            tcp  --  *      *       0.0.0.0/0            0.0.0.0/0            tcp dpt:3022
func ParseIptablesBytes(output string, port int) (int64, error) {
	portMatch := fmt.Sprintf("dpt:%d", port)
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[0] == "Chain" || fields[0] == "pkts" {
			continue
		}
		if port != 0 && !slices.Contains(fields, portMatch) {
			continue
		}
		if _, err := strconv.ParseUint(fields[0], 10, 64); err != nil {
			return 0, fmt.Errorf("unexpected accounting rule %q", line)
		}
		bytesSent, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("unexpected accounting rule %q", line)
		}
		return bytesSent, nil
	}
	if port != 0 {
		return 0, fmt.Errorf("no accounting rule for %s", portMatch)
	}
	return 0, fmt.Errorf("no accounting rule found")
}
