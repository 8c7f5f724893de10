package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jessevdk/go-flags"

	"github.com/tigerbot-team/wastesort/pkg/screen"
)

func main() {
	var opts struct {
		Device string `long:"device" default:"/dev/fb1" description:"Framebuffer device"`
	}
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(1)
	}

	ctx := context.Background()

	go screen.LoopUpdatingScreen(ctx, opts.Device)

	screen.SetRunState("running")
	screen.SetBinLevel("bin2", 10, true)
	screen.SetBinLevel("bin9", 55, true)
	screen.SetBinLevel("bin8", 95, true)
	screen.SetBinLevel("bin7", 0, false)

	fmt.Println(
		`Commands:
    b <name> <percent>   # Set a bin level (negative for a failed sensor)
    s <state>            # Set the sorter state
    r <state>            # Set the run state
    l <label>            # Set the last label`)

	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			fmt.Println("\nFailed to read stdin: ", err)
			return
		}

		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		switch parts[0] {
		case "b":
			if len(parts) < 3 {
				fmt.Println("Not enough parameters")
				continue
			}
			p, err := strconv.Atoi(parts[2])
			if err != nil {
				fmt.Println("Expected int, not ", parts[2])
				continue
			}
			screen.SetBinLevel(parts[1], p, p >= 0)
		case "s":
			screen.SetSorterState(parts[1])
		case "r":
			screen.SetRunState(parts[1])
		case "l":
			screen.SetLastLabel(strings.Join(parts[1:], " "))
		}
	}
}
