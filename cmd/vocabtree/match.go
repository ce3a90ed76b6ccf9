package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/arborimage/vocabtree/descriptor"
	"github.com/arborimage/vocabtree/vocabtree"
)

var (
	matchDistance  string
	matchNormalize bool
	matchMinScale  float64
)

func init() {
	cmd := newMatchCmd()
	cmd.Flags().StringVar(&matchDistance, "distance", "min", "Distance type for scoring: dot or min")
	cmd.Flags().BoolVar(&matchNormalize, "normalize", true, "Normalize each query vector before scoring")
	cmd.Flags().Float64Var(&matchMinScale, "min-scale", 0.0, "Discard query descriptors with keypoint scale below this threshold")
	rootCmd.AddCommand(cmd)
}

func newMatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "match <tree.in> <db_list.in> <query_list.in> <num_neighbors> <out>",
		Short: "Score query images against a populated vocabulary tree's database",
		Long: `The match command loads tree.in (already populated and normalized by
build-db/combine), reads query_list.in, scores every query's descriptors
against the database, and writes the top num_neighbors matches per query
to out as "query_idx db_idx score" lines, one per retrieved neighbor,
sorted by descending score. db_list.in is read only to report the size of
the database being queried against.

Example:
  vocabtree match db.tree db.in queries.in 10 matches.out`,
		Args: cobra.ExactArgs(5),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMatch(args)
		},
	}
	return cmd
}

func runMatch(args []string) error {
	treePath, dbListPath, queryListPath, numNbrsStr, outPath := args[0], args[1], args[2], args[3], args[4]

	numNbrs, err := strconv.Atoi(numNbrsStr)
	if err != nil {
		return fmt.Errorf("invalid num_neighbors %q: %w", numNbrsStr, err)
	}

	dtype, err := parseDistance(matchDistance)
	if err != nil {
		return err
	}

	tree, err := vocabtree.Read(treePath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", treePath, err)
	}
	tree.DistanceType = dtype

	dbEntries, err := descriptor.ReadList(dbListPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", dbListPath, err)
	}
	printVerbose("Database: %d listed images, tree reports %d\n", len(dbEntries), tree.NumImages)

	queryEntries, err := descriptor.ReadList(queryListPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", queryListPath, err)
	}

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", outPath, err)
	}
	defer out.Close()

	type summary struct {
		QueryIdx int     `json:"query_idx"`
		DBIdx    uint32  `json:"db_idx"`
		Score    float64 `json:"score"`
	}
	var all []summary

	for qi, entry := range queryEntries {
		descs, err := loadEntryDescriptors(entry, matchMinScale)
		if err != nil {
			return fmt.Errorf("reading %s: %w", entry.Path, err)
		}
		scores, err := tree.ScoreQuery(descs, matchNormalize)
		if err != nil {
			return fmt.Errorf("scoring %s: %w", entry.Path, err)
		}

		ranked := make([]summary, 0, len(scores))
		for dbIdx, score := range scores {
			ranked = append(ranked, summary{QueryIdx: qi, DBIdx: dbIdx, Score: score})
		}
		sort.Slice(ranked, func(i, j int) bool {
			if ranked[i].Score != ranked[j].Score {
				return ranked[i].Score > ranked[j].Score
			}
			return ranked[i].DBIdx < ranked[j].DBIdx
		})
		if len(ranked) > numNbrs {
			ranked = ranked[:numNbrs]
		}

		for _, r := range ranked {
			if _, err := fmt.Fprintf(out, "%d %d %.6f\n", r.QueryIdx, r.DBIdx, r.Score); err != nil {
				return fmt.Errorf("writing %s: %w", outPath, err)
			}
		}
		all = append(all, ranked...)
		printVerbose("  query %d (%s): %d descriptors, %d candidates, top %d written\n", qi, entry.Path, len(descs), len(scores), len(ranked))
	}

	if jsonOut {
		return printJSON(map[string]interface{}{
			"queries": len(queryEntries),
			"results": all,
			"out":     outPath,
		})
	}
	printInfo("✓ Scored %d queries, wrote %s\n", len(queryEntries), outPath)
	return nil
}
