package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/loykin/respawn/pkg/client"
)

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func printStatusTable(w io.Writer, sts []client.ProcessStatus) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tSTATE\tPID\tRESTARTS\tUPTIME\tINFO")
	now := time.Now()
	for _, st := range sts {
		pid, uptime := "-", "-"
		if st.Running {
			pid = fmt.Sprint(st.PID)
			if !st.StartedAt.IsZero() {
				uptime = now.Sub(st.StartedAt).Truncate(time.Second).String()
			}
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			st.Name, st.State, pid, st.Restarts, uptime, statusInfo(st, now))
	}
	return tw.Flush()
}

func statusInfo(st client.ProcessStatus, now time.Time) string {
	var parts []string
	if st.NextRestartAt != nil {
		parts = append(parts, "restart in "+st.NextRestartAt.Sub(now).Truncate(time.Millisecond).String())
	}
	if !st.Running && !st.StoppedAt.IsZero() {
		if st.ExitSignal != "" {
			parts = append(parts, "signal "+st.ExitSignal)
		} else if st.State != "stopped" || st.ExitCode != 0 {
			parts = append(parts, fmt.Sprintf("exit %d", st.ExitCode))
		}
	}
	if st.LastError != "" {
		parts = append(parts, st.LastError)
	}
	return strings.Join(parts, "; ")
}
