package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/arborimage/vocabtree/descriptor"
	"github.com/arborimage/vocabtree/vocabtree"
)

func init() {
	rootCmd.AddCommand(newLearnCmd())
}

func newLearnCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "learn <list.in> <depth> <branching_factor> <restarts> <tree.out>",
		Short: "Learn a hierarchical k-means vocabulary tree from a list of descriptor files",
		Long: `The learn command reads every descriptor file named in list.in, pools
their descriptors, and builds a hierarchical k-means vocabulary tree of the
given depth and branching factor. Each interior node's clustering step
retries "restarts" independent random seedings and keeps the lowest-
distortion result. The resulting tree has no images loaded into its
database yet — run build-db next.

Example:
  vocabtree learn train.in 6 10 3 tree.out`,
		Args: cobra.ExactArgs(5),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLearn(args)
		},
	}
	return cmd
}

func runLearn(args []string) error {
	listPath := args[0]
	depth, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid depth %q: %w", args[1], err)
	}
	bf, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("invalid branching_factor %q: %w", args[2], err)
	}
	restarts, err := strconv.Atoi(args[3])
	if err != nil {
		return fmt.Errorf("invalid restarts %q: %w", args[3], err)
	}
	outPath := args[4]

	entries, err := descriptor.ReadList(listPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", listPath, err)
	}
	printVerbose("Reading %d descriptor files from %s\n", len(entries), listPath)

	p := message.NewPrinter(language.English)

	store := descriptor.NewStore(descriptor.Dim)
	for _, entry := range entries {
		descs, err := loadEntryDescriptors(entry, 0)
		if err != nil {
			return fmt.Errorf("reading %s: %w", entry.Path, err)
		}
		for _, d := range descs {
			if _, err := store.Append(d); err != nil {
				return fmt.Errorf("pooling descriptors from %s: %w", entry.Path, err)
			}
		}
		printVerbose("  %s: %d descriptors\n", entry.Path, len(descs))
	}
	printInfo("Pooled %s descriptors from %d files\n", p.Sprintf("%d", store.Len()), len(entries))

	tree, err := vocabtree.Build(descriptor.Dim, depth, bf, restarts, store, nil, vocabtree.BuildOptions{})
	if err != nil {
		return fmt.Errorf("building tree: %w", err)
	}
	printInfo("Built tree: %s nodes, %s leaves\n", p.Sprintf("%d", tree.CountNodes()), p.Sprintf("%d", tree.CountLeaves()))

	if err := tree.Write(outPath); err != nil {
		return fmt.Errorf("writing %s: %w", outPath, err)
	}

	if jsonOut {
		return printJSON(map[string]interface{}{
			"nodes":    tree.CountNodes(),
			"leaves":   tree.CountLeaves(),
			"depth":    depth,
			"bf":       bf,
			"restarts": restarts,
			"out":      outPath,
		})
	}
	printInfo("✓ Wrote %s\n", outPath)
	return nil
}
