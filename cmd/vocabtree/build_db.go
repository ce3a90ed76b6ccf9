package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/arborimage/vocabtree/descriptor"
	"github.com/arborimage/vocabtree/vocabtree"
)

var (
	buildDBTFIDF     bool
	buildDBNormalize bool
	buildDBStartID   int
	buildDBDistance  string
	buildDBMinScale  float64
)

func init() {
	cmd := newBuildDBCmd()
	cmd.Flags().BoolVar(&buildDBTFIDF, "tfidf", false, "Compute TF-IDF leaf weights after loading all images")
	cmd.Flags().BoolVar(&buildDBNormalize, "normalize", false, "Normalize database vectors after TF-IDF weighting (requires --tfidf)")
	cmd.Flags().IntVar(&buildDBStartID, "start-id", 0, "Image id assigned to the first entry in list.in")
	cmd.Flags().StringVar(&buildDBDistance, "distance", "min", "Distance type for scoring: dot or min")
	cmd.Flags().Float64Var(&buildDBMinScale, "min-scale", 1.4, "Discard descriptors with keypoint scale below this threshold")
	rootCmd.AddCommand(cmd)
}

func newBuildDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build-db <list.in> <tree.in> <tree.out>",
		Short: "Populate a vocabulary tree's inverted file from a list of images",
		Long: `The build-db command loads tree.in, routes every image named in list.in
through it in list order (assigned image ids starting at --start-id,
strictly ascending), and writes the populated tree to tree.out. With
--tfidf, leaf weights are recomputed from the final posting lists; with
--normalize (which requires --tfidf), every loaded image's vector is then
normalized to unit norm under the chosen --distance type.

Example:
  vocabtree build-db db.in empty.tree db.tree --tfidf --normalize`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuildDB(args)
		},
	}
	return cmd
}

func parseDistance(s string) (vocabtree.DistanceType, error) {
	switch s {
	case "dot":
		return vocabtree.DistanceDot, nil
	case "min":
		return vocabtree.DistanceMin, nil
	default:
		return 0, fmt.Errorf("unknown distance type %q (want dot or min)", s)
	}
}

func runBuildDB(args []string) error {
	listPath, treeInPath, treeOutPath := args[0], args[1], args[2]

	if buildDBNormalize && !buildDBTFIDF {
		return fmt.Errorf("--normalize requires --tfidf")
	}

	dtype, err := parseDistance(buildDBDistance)
	if err != nil {
		return err
	}

	tree, err := vocabtree.Read(treeInPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", treeInPath, err)
	}
	tree.DistanceType = dtype

	entries, err := descriptor.ReadList(listPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", listPath, err)
	}

	p := message.NewPrinter(language.English)
	printInfo("Loading %s images into tree (%s nodes)\n", p.Sprintf("%d", len(entries)), p.Sprintf("%d", tree.CountNodes()))

	for i, entry := range entries {
		imageID := uint32(buildDBStartID + i)
		descs, err := loadEntryDescriptors(entry, buildDBMinScale)
		if err != nil {
			return fmt.Errorf("reading %s: %w", entry.Path, err)
		}
		mag, err := tree.AddImage(imageID, descs)
		if err != nil {
			return fmt.Errorf("adding image %d (%s): %w", imageID, entry.Path, err)
		}
		printVerbose("  image %d: %s (%d descriptors, magnitude %.4f)\n", imageID, entry.Path, len(descs), mag)
	}

	if buildDBTFIDF {
		if err := tree.ComputeTFIDFWeights(len(entries)); err != nil {
			return fmt.Errorf("computing TF-IDF weights: %w", err)
		}
		printVerbose("Computed TF-IDF weights over %d images\n", len(entries))
	}
	if buildDBNormalize {
		if err := tree.Normalize(uint32(buildDBStartID), uint32(len(entries))); err != nil {
			return fmt.Errorf("normalizing: %w", err)
		}
		printVerbose("Normalized images [%d, %d)\n", buildDBStartID, buildDBStartID+len(entries))
	}

	if err := tree.Write(treeOutPath); err != nil {
		return fmt.Errorf("writing %s: %w", treeOutPath, err)
	}

	if jsonOut {
		return printJSON(map[string]interface{}{
			"images_loaded": len(entries),
			"features":      tree.CountFeatures(),
			"state":         tree.State.String(),
			"out":           treeOutPath,
		})
	}
	printInfo("✓ Loaded %d images, wrote %s (state: %s)\n", len(entries), treeOutPath, tree.State)
	return nil
}
