// Command runner executes a flow DSL file once and prints the resulting
// execution context. Useful for developing definitions without a server.
//
//	runner -flow order.json -data '{"body": {"email": "x@y"}}'
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/flowmesh/flowmesh/internal/activity"
	"github.com/flowmesh/flowmesh/internal/audit"
	"github.com/flowmesh/flowmesh/internal/engine"
	"github.com/flowmesh/flowmesh/internal/secret"
)

func main() {
	flowPath := flag.String("flow", "", "path to the flow DSL file")
	data := flag.String("data", "", "trigger data as inline JSON")
	timeout := flag.Duration("timeout", 5*time.Minute, "run timeout")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	if *flowPath == "" {
		fmt.Fprintln(os.Stderr, "usage: runner -flow <file> [-data <json>] [-timeout <dur>]")
		os.Exit(2)
	}

	logrus.SetLevel(logrus.WarnLevel)
	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	dsl, err := os.ReadFile(*flowPath)
	if err != nil {
		fatal("read flow file: %v", err)
	}

	var triggerData map[string]interface{}
	if *data != "" {
		if err := json.Unmarshal([]byte(*data), &triggerData); err != nil {
			fatal("parse -data: %v", err)
		}
	}

	executor := engine.New(activity.NewRegistry(), audit.NopEmitter{}, secret.NopResolver{})

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	run, err := executor.ExecuteFromJSON(ctx, dsl, triggerData)
	if run != nil {
		if rendered, jsonErr := run.ToJSON(); jsonErr == nil {
			fmt.Println(rendered)
		}
	}
	if err != nil {
		fatal("run failed: %v", err)
	}
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
