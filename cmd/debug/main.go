package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/0xPuncker/batch-dispatcher/internal/cron"
	pkgconfig "github.com/0xPuncker/batch-dispatcher/pkg/config"
)

// Prints upcoming fire times, either for one expression or for every trigger in a file.
func main() {
	expr := flag.String("expr", "", "cron expression to evaluate")
	triggersFile := flag.String("triggers", "", "trigger file to evaluate instead of -expr")
	count := flag.Int("n", 5, "number of fire times to print")
	tz := flag.String("tz", "", "timezone name, defaults to local time")
	flag.Parse()

	loc := time.Local
	if *tz != "" {
		var err error
		loc, err = time.LoadLocation(*tz)
		if err != nil {
			fmt.Printf("Invalid timezone: %v\n", err)
			os.Exit(1)
		}
	}
	parser := cron.NewParser(loc)

	if *triggersFile != "" {
		file, err := pkgconfig.LoadTriggers(*triggersFile)
		if err != nil {
			fmt.Printf("Failed to load triggers: %v\n", err)
			os.Exit(1)
		}
		for _, spec := range file.Triggers {
			fmt.Printf("\n%s -> %s (%s)\n", spec.Key(), spec.JobName, spec.CronExpression)
			printNext(parser, spec.CronExpression, *count, loc)
		}
		return
	}

	if *expr == "" {
		fmt.Println("Either -expr or -triggers is required")
		os.Exit(2)
	}
	printNext(parser, *expr, *count, loc)
}

func printNext(parser *cron.Parser, expr string, count int, loc *time.Location) {
	sched, err := parser.Parse(expr)
	if err != nil {
		fmt.Printf("  invalid expression: %v\n", err)
		return
	}

	next := time.Now().In(loc)
	for i := 0; i < count; i++ {
		next = sched.Next(next)
		if next.IsZero() {
			fmt.Println("  no further fire times")
			return
		}
		fmt.Printf("  %d. %s\n", i+1, next.Format(time.RFC1123))
	}
}
