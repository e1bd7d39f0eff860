package shell

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ValentinKolb/dLog/cmd/util"
	"github.com/ValentinKolb/dLog/lib/store"
	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"
)

var (
	// ShellCmd opens the log once and reads commands from an interactive prompt
	ShellCmd = &cobra.Command{
		Use:   "shell",
		Short: "Interactive shell on a log",
		Long:  "Opens the log in --data-dir and keeps it open while commands are read from the prompt. Type 'help' for a list of commands.",
		Args:  cobra.NoArgs,
		RunE:  runShell,
	}

	completer = readline.NewPrefixCompleter(
		readline.PcItem("set"),
		readline.PcItem("get"),
		readline.PcItem("del"),
		readline.PcItem("has"),
		readline.PcItem("compact"),
		readline.PcItem("info"),
		readline.PcItem("metrics"),
		readline.PcItem("help"),
		readline.PcItem("exit"),
	)

	errQuit = errors.New("quit")
)

const helpText = `commands:
  set <key> <value>   append a new value for a key
  get <key>           read the newest value of a key
  del <key>           delete a key
  has <key>           check if a key has a live value
  compact             run one compaction cycle
  info                print information about the log
  metrics             print the metrics of the log
  help                print this help
  exit                leave the shell
`

func runShell(cmd *cobra.Command, _ []string) error {
	s, config, err := util.OpenStore(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "dlog> ",
		HistoryFile:     filepath.Join(os.TempDir(), ".dlog_history"),
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	fmt.Printf("dLog shell on %s, type 'help' for a list of commands\n", config.DataDir)

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if len(line) == 0 {
				return nil
			}
			continue
		} else if errors.Is(err, io.EOF) {
			return nil
		} else if err != nil {
			return err
		}

		err = execute(s, strings.TrimSpace(line), rl.Stdout())
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(rl.Stderr(), "error: %v\n", err)
		}
	}
}

// execute runs a single shell command against the store and writes its output to out.
// It returns errQuit if the shell should be left.
func execute(s store.IStore, line string, out io.Writer) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	command, args := strings.ToLower(fields[0]), fields[1:]
	requireArgs := func(n int) error {
		if len(args) != n {
			return fmt.Errorf("%s expects %d argument(s), got %d", command, n, len(args))
		}
		return nil
	}

	switch command {
	case "set":
		// the value is everything after the key, spaces included
		if len(args) < 2 {
			return fmt.Errorf("set expects a key and a value")
		}
		value := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line[len(fields[0]):]), args[0]))
		if err := s.Set(args[0], []byte(value)); err != nil {
			return err
		}
		fmt.Fprintln(out, "OK")

	case "get":
		if err := requireArgs(1); err != nil {
			return err
		}
		value, found, err := s.Get(args[0])
		if err != nil {
			return err
		}
		if !found {
			fmt.Fprintln(out, "(not found)")
		} else {
			fmt.Fprintf(out, "%s\n", value)
		}

	case "del":
		if err := requireArgs(1); err != nil {
			return err
		}
		if err := s.Delete(args[0]); err != nil {
			return err
		}
		fmt.Fprintln(out, "OK")

	case "has":
		if err := requireArgs(1); err != nil {
			return err
		}
		found, err := s.Has(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%t\n", found)

	case "compact":
		if err := s.Compact(); err != nil {
			return err
		}
		fmt.Fprintln(out, "OK")

	case "info":
		info, err := s.GetDBInfo()
		if err != nil {
			return err
		}
		data, err := yaml.Marshal(info)
		if err != nil {
			return err
		}
		_, _ = out.Write(data)

	case "metrics":
		return s.WriteMetrics(out)

	case "help":
		fmt.Fprint(out, helpText)

	case "exit", "quit":
		return errQuit

	default:
		return fmt.Errorf("unknown command %q, type 'help' for a list of commands", command)
	}
	return nil
}
