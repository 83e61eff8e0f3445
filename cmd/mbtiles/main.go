// Command mbtiles implements an archive-inspection/maintenance CLI:
// meta-get, meta-set, meta-all, summary, copy, diff, apply-patch, validate.
// One cobra.Command per subcommand, flags registered in the function that
// builds that command, a RunE doing the real work.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mmartin/tileserv/internal/mbtiles"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mbtiles",
		Short: "Inspect and maintain MBTiles archives",
	}
	root.AddCommand(
		metaGetCmd(),
		metaSetCmd(),
		metaAllCmd(),
		summaryCmd(),
		copyCmd(),
		diffCmd(),
		applyPatchCmd(),
		validateCmd(),
	)
	return root
}

func metaGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "meta-get <file> <key>",
		Short: "Print one metadata value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := mbtiles.Open(args[0])
			if err != nil {
				return err
			}
			defer db.Close()
			v, err := mbtiles.GetMetadataValue(db, args[1])
			if err != nil {
				return err
			}
			fmt.Println(v)
			return nil
		},
	}
	return cmd
}

func metaSetCmd() *cobra.Command {
	var deleteKey bool
	cmd := &cobra.Command{
		Use:   "meta-set <file> <key> [value]",
		Short: "Set or delete one metadata value",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := mbtiles.Open(args[0])
			if err != nil {
				return err
			}
			defer db.Close()
			if deleteKey || len(args) == 2 {
				return mbtiles.SetMetadataValue(db, args[1], nil)
			}
			return mbtiles.SetMetadataValue(db, args[1], &args[2])
		},
	}
	cmd.Flags().BoolVar(&deleteKey, "delete", false, "delete the key instead of setting it")
	return cmd
}

func metaAllCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "meta-all <file>",
		Short: "Print the projected TileJSON metadata document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := mbtiles.Open(args[0])
			if err != nil {
				return err
			}
			defer db.Close()
			tj, warnings, err := mbtiles.GetMetadata(db)
			if err != nil {
				return err
			}
			for _, w := range warnings {
				fmt.Fprintln(os.Stderr, "warning:", w)
			}
			fmt.Printf("%+v\n", tj)
			return nil
		},
	}
	return cmd
}

func summaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary <file>",
		Short: "Print per-zoom tile coverage and totals",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := mbtiles.Open(args[0])
			if err != nil {
				return err
			}
			defer db.Close()
			s, err := mbtiles.Summarize(db)
			if err != nil {
				return err
			}
			for _, z := range s.Zooms {
				full := "sparse"
				if z.Full {
					full = "full"
				}
				fmt.Printf("zoom %2d: %8d tiles, x[%d,%d] y[%d,%d] (%s)\n",
					z.Zoom, z.TileCount, z.MinTileX, z.MaxTileX, z.MinTileY, z.MaxTileY, full)
			}
			fmt.Printf("total: %d tiles, %d bytes\n", s.TotalTiles, s.TotalBytes)
			return nil
		},
	}
	return cmd
}

func copyCmd() *cobra.Command {
	var dstType string
	var minZoom, maxZoom int
	var onDuplicate string
	var recomputeHash bool
	cmd := &cobra.Command{
		Use:   "copy <src> <dst>",
		Short: "Copy tiles from one archive into another, converting schema if needed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := mbtiles.Open(args[0])
			if err != nil {
				return err
			}
			defer src.Close()
			dst, err := mbtiles.Open(args[1])
			if err != nil {
				return err
			}
			defer dst.Close()

			opts := mbtiles.CopyOptions{
				DstType:       parseSchemaKind(dstType),
				OnDuplicate:   parseDuplicatePolicy(onDuplicate),
				RecomputeHash: recomputeHash,
			}
			if cmd.Flags().Changed("min-zoom") {
				opts.MinZoom = &minZoom
			}
			if cmd.Flags().Changed("max-zoom") {
				opts.MaxZoom = &maxZoom
			}
			return mbtiles.Copy(src, dst, opts)
		},
	}
	cmd.Flags().StringVar(&dstType, "dst-type", "flat", "destination schema: flat, flat-with-hash, normalized")
	cmd.Flags().IntVar(&minZoom, "min-zoom", 0, "minimum zoom to copy")
	cmd.Flags().IntVar(&maxZoom, "max-zoom", 0, "maximum zoom to copy")
	cmd.Flags().StringVar(&onDuplicate, "on-duplicate", "override", "override, ignore, or abort")
	cmd.Flags().BoolVar(&recomputeHash, "recompute-hash", true, "recompute agg_tiles_hash after copy")
	return cmd
}

func diffCmd() *cobra.Command {
	var schemaKind string
	cmd := &cobra.Command{
		Use:   "diff <src> <dst> <patch-file>",
		Short: "Compute a diff file transforming src into dst",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := mbtiles.Open(args[0])
			if err != nil {
				return err
			}
			defer src.Close()
			dst, err := mbtiles.Open(args[1])
			if err != nil {
				return err
			}
			defer dst.Close()

			deltas, err := mbtiles.Diff(src, dst)
			if err != nil {
				return err
			}
			hashBefore, err := mbtiles.CalcAggTilesHash(src)
			if err != nil {
				return err
			}
			hashAfter, err := mbtiles.CalcAggTilesHash(dst)
			if err != nil {
				return err
			}
			patch, err := mbtiles.Open(args[2])
			if err != nil {
				return err
			}
			defer patch.Close()
			if err := mbtiles.WriteDiffFile(patch, parseSchemaKind(schemaKind), deltas, hashBefore, hashAfter); err != nil {
				return err
			}
			fmt.Printf("wrote %d deltas to %s\n", len(deltas), args[2])
			return nil
		},
	}
	cmd.Flags().StringVar(&schemaKind, "schema", "flat", "diff file schema: flat, flat-with-hash, normalized")
	return cmd
}

func applyPatchCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "apply-patch <dest> <patch-file>",
		Short: "Apply a diff file onto an archive",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dest, err := mbtiles.Open(args[0])
			if err != nil {
				return err
			}
			defer dest.Close()
			patch, err := mbtiles.Open(args[1])
			if err != nil {
				return err
			}
			defer patch.Close()
			return mbtiles.ApplyPatch(dest, patch, force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "apply even if the base hash does not match")
	return cmd
}

func validateCmd() *cobra.Command {
	var integrity string
	var checkStructure, checkTileHash, checkAggHash bool
	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Run integrity, structural, and content-hash checks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := mbtiles.Open(args[0])
			if err != nil {
				return err
			}
			defer db.Close()
			mbt, err := mbtiles.DetectType(db)
			if err != nil {
				return err
			}
			opts := mbtiles.ValidateOptions{
				Integrity:      parseIntegrityLevel(integrity),
				CheckStructure: checkStructure,
				CheckTileHash:  checkTileHash,
				CheckAggHash:   checkAggHash,
			}
			if err := mbtiles.Validate(db, mbt, opts); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
	cmd.Flags().StringVar(&integrity, "integrity", "quick", "off, quick, or full")
	cmd.Flags().BoolVar(&checkStructure, "check-structure", true, "check zoom/column/row bounds")
	cmd.Flags().BoolVar(&checkTileHash, "check-tile-hash", true, "check per-tile hashes (flat-with-hash/normalized only)")
	cmd.Flags().BoolVar(&checkAggHash, "check-agg-hash", true, "check agg_tiles_hash")
	return cmd
}

func parseSchemaKind(s string) mbtiles.SchemaKind {
	switch s {
	case "flat-with-hash":
		return mbtiles.SchemaFlatWithHash
	case "normalized":
		return mbtiles.SchemaNormalized
	default:
		return mbtiles.SchemaFlat
	}
}

func parseDuplicatePolicy(s string) mbtiles.DuplicatePolicy {
	switch s {
	case "ignore":
		return mbtiles.DuplicateIgnore
	case "abort":
		return mbtiles.DuplicateAbort
	default:
		return mbtiles.DuplicateOverride
	}
}

func parseIntegrityLevel(s string) mbtiles.IntegrityLevel {
	switch s {
	case "off":
		return mbtiles.IntegrityOff
	case "full":
		return mbtiles.IntegrityFull
	default:
		return mbtiles.IntegrityQuick
	}
}
