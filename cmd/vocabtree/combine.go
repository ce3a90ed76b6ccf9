package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arborimage/vocabtree/vocabtree"
)

func init() {
	rootCmd.AddCommand(newCombineCmd())
}

func newCombineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "combine <tree1.in> <tree2.in>... <tree.out>",
		Short: "Merge two or more populated vocabulary trees into one",
		Long: `The combine command loads the first tree argument, then merges every
subsequent tree's posting lists into it (rejecting any tree whose topology
does not match), and writes the result to the final argument. All input
trees must be in the pending state (after build-db but before --tfidf).

Example:
  vocabtree combine part1.tree part2.tree part3.tree combined.tree`,
		Args: cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCombine(args)
		},
	}
	return cmd
}

func runCombine(args []string) error {
	inPaths := args[:len(args)-1]
	outPath := args[len(args)-1]

	tree, err := vocabtree.Read(inPaths[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", inPaths[0], err)
	}
	printVerbose("Base tree %s: %d images\n", inPaths[0], tree.NumImages)

	for _, path := range inPaths[1:] {
		other, err := vocabtree.Read(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		if err := tree.Combine(other); err != nil {
			return fmt.Errorf("combining %s: %w", path, err)
		}
		printVerbose("Combined %s: %d images total\n", path, tree.NumImages)
	}

	if err := tree.ComputeTFIDFWeights(tree.NumImages); err != nil {
		return fmt.Errorf("reweighting combined tree: %w", err)
	}
	if err := tree.Normalize(0, uint32(tree.NumImages)); err != nil {
		return fmt.Errorf("normalizing combined tree: %w", err)
	}

	if err := tree.Write(outPath); err != nil {
		return fmt.Errorf("writing %s: %w", outPath, err)
	}

	if jsonOut {
		return printJSON(map[string]interface{}{
			"inputs":     inPaths,
			"num_images": tree.NumImages,
			"out":        outPath,
		})
	}
	printInfo("✓ Combined %d trees (%d images), wrote %s\n", len(inPaths), tree.NumImages, outPath)
	return nil
}
