// Command rebasedriver runs conflict detection and rebases between
// serialized graph files.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"

	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/cobra"

	"wsgraph/graph"
	"wsgraph/rebase"
	"wsgraph/vectorclock"
)

// zstd frame magic number
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

var rootCmd = &cobra.Command{
	Use:   "rebasedriver",
	Short: "Debug conflict detection and rebases on serialized graphs",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			return logging.SetLogLevel("*", "debug")
		}
		return logging.SetLogLevel("*", "warn")
	},
}

var detectCmd = &cobra.Command{
	Use:   "detect <to-rebase-file> <onto-file>",
	Short: "Print the conflicts and updates of rebasing one graph onto another",
	Args:  cobra.ExactArgs(2),
	RunE:  runDetect,
}

var performCmd = &cobra.Command{
	Use:   "perform <to-rebase-file> <onto-file>",
	Short: "Rebase a graph onto another and write the result",
	Args:  cobra.ExactArgs(2),
	RunE:  runPerform,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Print node and edge counts and the root hash of a graph",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

var (
	toClock   string
	ontoClock string
	outFile   string
	jsonOut   bool
	rawOut    bool
	verbose   bool
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output as JSON")

	for _, cmd := range []*cobra.Command{detectCmd, performCmd} {
		cmd.Flags().StringVar(&toClock, "to-clock", "", "Vector clock id of the to-rebase graph (inferred when empty)")
		cmd.Flags().StringVar(&ontoClock, "onto-clock", "", "Vector clock id of the onto graph (inferred when empty)")
	}
	performCmd.Flags().StringVarP(&outFile, "out", "o", "", "Write the rebased graph to this file")
	performCmd.Flags().BoolVar(&rawOut, "raw", false, "Write uncompressed JSON instead of the compressed format")

	rootCmd.AddCommand(detectCmd, performCmd, inspectCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// readGraph loads either the compressed or the plain JSON serialized form.
func readGraph(path string) (*graph.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var g *graph.Graph
	if bytes.HasPrefix(data, zstdMagic) {
		g, err = graph.Decode(data)
	} else {
		g, err = graph.Unmarshal(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return g, nil
}

// inferClock picks the clock id that g has seen furthest beyond other: the
// branch that made g's own writes.
func inferClock(g, other *graph.Graph) (vectorclock.ID, error) {
	mine, theirs := g.Knowledge(), other.Knowledge()

	ids := make([]vectorclock.ID, 0, len(mine))
	for id := range mine {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	var best vectorclock.ID
	var lead uint64
	for _, id := range ids {
		if mine[id] > theirs.Get(id) && mine[id]-theirs.Get(id) > lead {
			best, lead = id, mine[id]-theirs.Get(id)
		}
	}
	if lead == 0 {
		return best, fmt.Errorf("cannot infer a clock id, pass it explicitly")
	}
	return best, nil
}

func clockFlag(value string, g, other *graph.Graph) (vectorclock.ID, error) {
	if value != "" {
		return vectorclock.ParseID(value)
	}
	return inferClock(g, other)
}

func loadPair(args []string) (toRebase, onto *graph.Graph, toID, ontoID vectorclock.ID, err error) {
	if toRebase, err = readGraph(args[0]); err != nil {
		return
	}
	if onto, err = readGraph(args[1]); err != nil {
		return
	}
	if toID, err = clockFlag(toClock, toRebase, onto); err != nil {
		err = fmt.Errorf("--to-clock: %w", err)
		return
	}
	if ontoID, err = clockFlag(ontoClock, onto, toRebase); err != nil {
		// detection works without the onto clock
		ontoID, err = vectorclock.NewID(), nil
	}
	return
}

func runDetect(cmd *cobra.Command, args []string) error {
	toRebase, onto, toID, ontoID, err := loadPair(args)
	if err != nil {
		return err
	}

	result, err := rebase.DetectConflictsAndUpdates(cmd.Context(), toRebase, toID, onto, ontoID)
	if err != nil {
		return err
	}
	return printResult(result)
}

func runPerform(cmd *cobra.Command, args []string) error {
	toRebase, onto, toID, ontoID, err := loadPair(args)
	if err != nil {
		return err
	}

	result, err := rebase.DetectConflictsAndUpdates(cmd.Context(), toRebase, toID, onto, ontoID)
	if err != nil {
		return err
	}
	if !result.Clean() {
		if err := printResult(result); err != nil {
			return err
		}
		return rebase.ErrUnresolvedConflicts
	}

	root, err := rebase.PerformUpdates(cmd.Context(), toRebase, toID, onto, result.Updates)
	if err != nil {
		return err
	}
	fmt.Printf("applied %d updates, new root %s\n", len(result.Updates), root)

	if outFile == "" {
		return nil
	}
	var data []byte
	if rawOut {
		data, err = toRebase.Marshal()
	} else {
		data, err = toRebase.Encode()
	}
	if err != nil {
		return err
	}
	if err := os.WriteFile(outFile, data, 0o644); err != nil {
		return err
	}
	fmt.Printf("wrote %s (%d bytes)\n", outFile, len(data))
	return nil
}

func runInspect(cmd *cobra.Command, args []string) error {
	g, err := readGraph(args[0])
	if err != nil {
		return err
	}
	stats := g.Stats()
	if jsonOut {
		return printJSON(stats)
	}

	fmt.Printf("nodes:     %d\n", stats.Nodes)
	fmt.Printf("edges:     %d\n", stats.Edges)
	fmt.Printf("root hash: %s\n", stats.RootHash)
	kinds := make([]string, 0, len(stats.NodeKinds))
	for k := range stats.NodeKinds {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Printf("  %-22s %d\n", k, stats.NodeKinds[k])
	}
	fmt.Printf("knowledge: %s\n", g.Knowledge())
	return nil
}

func printResult(result rebase.ConflictsAndUpdates) error {
	if jsonOut {
		return printJSON(result)
	}

	fmt.Printf("%d conflicts, %d updates\n", len(result.Conflicts), len(result.Updates))
	for _, c := range result.Conflicts {
		fmt.Println("  conflict:", c)
	}
	for _, u := range result.Updates {
		fmt.Println("  update:  ", u)
	}
	counts := result.Count()
	if len(counts) > 0 {
		parts := make([]string, 0, len(counts))
		for kind, n := range counts {
			parts = append(parts, fmt.Sprintf("%s=%d", kind, n))
		}
		sort.Strings(parts)
		fmt.Println("by kind:", strings.Join(parts, " "))
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
