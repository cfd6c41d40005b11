package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/tinyrange/bringup/internal/timeslice"
)

type stepSummary struct {
	Name  string
	Flags timeslice.Flags
	Harts map[uint32]bool
	Count int
	Sum   time.Duration
	Min   time.Duration
	Max   time.Duration
}

func (s *stepSummary) String() string {
	return fmt.Sprintf("% 24s flags=% 10s harts=% 4d count=% 6d sum=% 14s min=% 14s max=% 14s avg=% 14s",
		s.Name, s.Flags, len(s.Harts), s.Count,
		s.Sum,
		s.Min,
		s.Max,
		s.Sum/time.Duration(s.Count),
	)
}

func (s *stepSummary) Add(e timeslice.Entry) {
	s.Harts[e.Hart] = true
	s.Count++
	s.Sum += e.Duration
	if s.Count == 1 || e.Duration < s.Min {
		s.Min = e.Duration
	}
	if e.Duration > s.Max {
		s.Max = e.Duration
	}
}

func main() {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	filename := fs.String("filename", "", "timeslice log written by bringup -timeslice")
	sums := fs.Bool("sums", false, "summarize each bring-up step across harts")
	hart := fs.Int("hart", -1, "only show records from this hart")

	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}

	if *filename == "" {
		fs.Usage()
		os.Exit(1)
	}

	f, err := os.Open(*filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open timeslice file: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	keep := func(e timeslice.Entry) bool {
		return *hart < 0 || e.Hart == uint32(*hart)
	}

	if *sums {
		steps := map[string]*stepSummary{}
		order := []string{}
		if err := timeslice.ReadAll(f, func(e timeslice.Entry) error {
			if !keep(e) {
				return nil
			}
			s, ok := steps[e.Kind.Name]
			if !ok {
				order = append(order, e.Kind.Name)
				s = &stepSummary{Name: e.Kind.Name, Flags: e.Kind.Flags, Harts: map[uint32]bool{}}
				steps[e.Kind.Name] = s
			}
			s.Add(e)
			return nil
		}); err != nil {
			fmt.Fprintf(os.Stderr, "failed to read timeslice file: %v\n", err)
			os.Exit(1)
		}
		for _, name := range order {
			fmt.Println(steps[name])
		}
		return
	}

	if err := timeslice.ReadAll(f, func(e timeslice.Entry) error {
		if keep(e) {
			fmt.Printf("hart %d %s %s %s\n", e.Hart, e.Kind.Name, e.Kind.Flags, e.Duration)
		}
		return nil
	}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to read timeslice file: %v\n", err)
		os.Exit(1)
	}
}
