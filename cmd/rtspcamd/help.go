package main

import (
	"fmt"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"
)

var (
	flagConfig     string
	flagListenAddr string
	flagLogLevel   string
	flagHelp       bool
	flagVersion    bool
)

func init() {
	flag.StringVarP(&flagConfig, "config", "c", "/etc/rtspcam/rtspcam.yaml", "Path to YAML configuration file")
	flag.StringVarP(&flagListenAddr, "listen", "l", "", "Override listen_addr from the config file")
	flag.StringVar(&flagLogLevel, "log-level", "", "Override log_level from the config file")

	flag.BoolVarP(&flagHelp, "help", "h", false, "Print usage information and exit")
	flag.BoolVarP(&flagVersion, "version", "v", false, "Print version information and exit")
}

const helpString = `Serve one H.264/AAC stream over RTSP

Usage: rtspcamd [OPTION]...

Configuration:
  -c, --config=FILE      Path to YAML configuration file (default: /etc/rtspcam/rtspcam.yaml)
  -l, --listen=ADDR      Override listen_addr from the config file
      --log-level=LEVEL  Override log_level from the config file

Miscellaneous:
  -h, --help             Prints this help message and exits
  -v, --version          Prints version information and exits
`

func help() {
	color.New(color.FgCyan).Println("rtspcamd")
	fmt.Print(helpString)
}

var version = "dev"

func printVersion() {
	fmt.Println("rtspcamd", version)
}
