package command

import (
	"fmt"
	"strings"
)

// DefaultTable returns the built-in command set in help order.
func DefaultTable() Table {
	return Table{
		{"STATUS", HandlerFunc(status), "Show application status"},
		{"ECHO", HandlerFunc(toggleEcho), "Toggle echo mode on/off"},
		{"VERBOSE", HandlerFunc(toggleVerbose), "Toggle verbose mode on/off"},
		{"HELP", HandlerFunc(help), "Show this help message"},
		{"PING", HandlerFunc(ping), "Send ping to remote device"},
		{"SEND", HandlerFunc(send), "Send custom message"},
		{"RESET", HandlerFunc(resetCounters), "Reset packet counters"},
	}
}

func onOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}

func status(req *Request) string {
	st := req.State
	return fmt.Sprintf("STATUS: Packets=%d Commands=%d Echo=%s Verbose=%s\r\n",
		st.PacketCount, st.CommandCount, onOff(st.EchoEnabled), onOff(st.Verbose))
}

func toggleEcho(req *Request) string {
	req.State.EchoEnabled = !req.State.EchoEnabled
	return "ECHO: " + onOff(req.State.EchoEnabled) + "\r\n"
}

func toggleVerbose(req *Request) string {
	req.State.Verbose = !req.State.Verbose
	return "VERBOSE: " + onOff(req.State.Verbose) + "\r\n"
}

func help(req *Request) string {
	var b strings.Builder
	b.WriteString("HELP: Available commands:\r\n")
	for _, e := range req.Table {
		b.WriteString(e.Name)
		b.WriteString(" - ")
		b.WriteString(e.Description)
		b.WriteString("\r\n")
	}
	return b.String()
}

func ping(*Request) string { return "PONG\r\n" }

func send(req *Request) string {
	if req.Args == "" {
		return "ERROR: No message specified\r\n"
	}
	return "ECHO: " + req.Args + "\r\n"
}

func resetCounters(req *Request) string {
	req.State.PacketCount = 0
	req.State.CommandCount = 0
	return "RESET: Counters cleared\r\n"
}
