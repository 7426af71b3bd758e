// Command replay runs scenario files against a fresh engine and reports
// every expectation that did not hold, e.g.
//
//	replay internal/scenario/testdata/buy_mark_sell.yaml
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"stratexec/internal/logger"
	"stratexec/internal/scenario"
)

func main() {
	asJSON := flag.Bool("json", false, "print the full result as JSON")
	level := flag.String("log-level", "warn", "log level")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: replay [flags] scenario.yaml...\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	logger.SetLevel(*level)

	failed := 0
	for _, path := range flag.Args() {
		sc, err := scenario.Load(path)
		if err != nil {
			log.Fatalf("load scenario: %v", err)
		}
		res, err := scenario.Run(sc)
		if err != nil {
			log.Fatalf("run %s: %v", path, err)
		}
		if *asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				log.Fatalf("encode result: %v", err)
			}
		} else {
			printResult(path, res)
		}
		if !res.OK() {
			failed++
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func printResult(path string, res scenario.Result) {
	status := "ok"
	if !res.OK() {
		status = "FAIL"
	}
	fmt.Printf("%s %s (%s) steps=%d failed=%d\n", status, res.Name, path, len(res.Steps), res.Failed())
	for _, st := range res.Steps {
		if !st.Failed() {
			continue
		}
		for _, m := range st.Mismatches {
			fmt.Printf("  step %d %s: %s\n", st.Index, st.Kind, m)
		}
	}
	if res.Final != nil {
		p := res.Final.Portfolio
		fmt.Printf("  final value=%s cash=%s peak=%s max_drawdown=%s\n",
			p.PortfolioValue, p.Cash, p.PeakValue, p.MaxDrawdownFromPeak)
	}
}
