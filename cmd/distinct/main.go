// Command distinct estimates the number of distinct whitespace-separated
// words in a text file with HyperLogLog and compares the estimate against
// an exact count.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/schollz/progressbar/v3"

	"github.com/streamest/hyperloglog"
)

const maxWordLen = 1024 * 1024

func main() {
	file := flag.String("file", "shakespeare.txt", "text file to count distinct words in")
	rate := flag.Float64("rate", hyperloglog.DefaultErrorRate, "target relative error of the estimate")
	flag.Parse()

	if err := run(*file, *rate); err != nil {
		fmt.Fprintln(os.Stderr, "distinct:", err)
		os.Exit(1)
	}
}

func run(path string, rate float64) error {
	h, err := hyperloglog.New(rate)
	if err != nil {
		return err
	}
	fmt.Printf("bits: %d\n", h.Precision())
	fmt.Printf("registers: %d\n", h.RegisterCount())

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	bar := progressbar.DefaultBytes(info.Size(), "counting")

	// The exact set is the ground truth the estimate is checked against.
	exact := make(map[string]struct{})

	scanner := bufio.NewScanner(io.TeeReader(f, bar))
	scanner.Buffer(make([]byte, 64*1024), maxWordLen)
	scanner.Split(bufio.ScanWords)
	for scanner.Scan() {
		word := scanner.Text()
		h.AddString(word)
		exact[word] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	_ = bar.Finish()

	estimated := h.Count()
	actual := len(exact)
	observed := 0.0
	if actual > 0 {
		observed = math.Abs(float64(actual)-float64(estimated)) / float64(actual)
	}

	fmt.Printf("estimated %d err(%.5f)\n", estimated, h.ErrorRate())
	fmt.Printf("actual    %d err(%.5f)\n", actual, observed)
	return nil
}
