// Package status renders the status of configured instances.
package status

import (
	"fmt"
	"io"
	"strconv"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

const (
	// StatusOffline is shown for instances absent at the provider.
	StatusOffline = "OFFLINE"
	// StatusUnknown is shown when the provider status could not be read.
	StatusUnknown = "UNKNOWN"
)

var defaultModuleStatus = "--"

// Row is the status of one instance.
type Row struct {
	Name      string
	Status    string
	LocalPort int
	// TunnelPID is the pid of a running tunnel, 0 if it is not running.
	TunnelPID int
	Default   bool
}

// StatusOpts contains options for hermit status.
type StatusOpts struct {
	// Option for pretty-formatted table output.
	Pretty bool
}

var (
	printGreen  = color.New(color.FgGreen).SprintFunc()
	printYellow = color.New(color.FgYellow).SprintFunc()
	printRed    = color.New(color.FgRed).SprintFunc()
)

// colorStatus colors the instance status by its availability.
func colorStatus(status string) string {
	switch status {
	case "RUNNING":
		return printGreen(status)
	case "SUSPENDED", "SUSPENDING", "STAGING", "PROVISIONING":
		return printYellow(status)
	case StatusOffline:
		return status
	}
	return printRed(status)
}

// Render writes the status as a table.
func Render(w io.Writer, rows []Row, opts StatusOpts) {
	ts := table.NewWriter()
	ts.SetOutputMirror(w)
	ts.AppendHeader(table.Row{"INSTANCE", "STATUS", "TUNNEL", "PORT", "DEFAULT"})

	for _, row := range rows {
		tunnelStatus := defaultModuleStatus
		if row.TunnelPID != 0 {
			tunnelStatus = printGreen(fmt.Sprintf("RUNNING. PID: %d", row.TunnelPID))
		}
		port := defaultModuleStatus
		if row.LocalPort != 0 {
			port = strconv.Itoa(row.LocalPort)
		}
		defaultLabel := ""
		if row.Default {
			defaultLabel = "(default)"
		}
		ts.AppendRow(table.Row{row.Name, colorStatus(row.Status), tunnelStatus, port,
			defaultLabel})
	}
	ts.SortBy([]table.SortBy{{Name: "INSTANCE", Mode: table.Asc}})

	if opts.Pretty {
		ts.SetStyle(table.StyleRounded)
	} else {
		ts.Style().Options.DrawBorder = false
		ts.Style().Options.SeparateColumns = false
		ts.Style().Options.SeparateHeader = false
	}
	ts.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft, AlignHeader: text.AlignLeft},
		{Number: 2, Align: text.AlignLeft, AlignHeader: text.AlignLeft},
		{Number: 3, Align: text.AlignLeft, AlignHeader: text.AlignLeft},
		{Number: 4, Align: text.AlignLeft, AlignHeader: text.AlignLeft},
	})
	ts.Render()
}
