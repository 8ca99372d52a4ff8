// Command trunnel compiles .trunnel schema files into C header/module
// pairs (spec.md §6 "CLI").
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/clarete/trunnel"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	optionFlags   []string
	targetDir     string
	writeCFiles   bool
	requireVerion string
	verbose       bool
)

var rootCmd = &cobra.Command{
	Use:   "trunnel [schema...]",
	Short: "Compile trunnel schema files into C codecs",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCompile,
}

func init() {
	rootCmd.Flags().StringArrayVar(&optionFlags, "option", nil, "force a schema option (e.g. opaque, very_opaque)")
	rootCmd.Flags().StringVar(&targetDir, "target-dir", ".", "directory to write generated files into")
	rootCmd.Flags().BoolVar(&writeCFiles, "write-c-files", true, "write the generated .h/.c files to target-dir")
	rootCmd.Flags().StringVar(&requireVerion, "require-version", "", "fail unless the running trunnel matches this version")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCompile(cmd *cobra.Command, args []string) error {
	if verbose {
		log.SetLevel(log.DebugLevel)
	}
	if requireVerion != "" && requireVerion != trunnel.Version {
		return fmt.Errorf("trunnel version mismatch: have %s, require %s", trunnel.Version, requireVerion)
	}

	opts := trunnel.CompileOptions{}
	for _, o := range optionFlags {
		switch o {
		case "opaque":
			opts.Opaque = true
		case "very_opaque":
			opts.VeryOpaque = true
		default:
			return fmt.Errorf("unknown --option %q", o)
		}
	}

	for _, path := range args {
		if err := compileOne(path, opts); err != nil {
			log.WithError(err).WithField("schema", path).Error("compilation failed")
			return err
		}
	}
	return nil
}

func compileOne(path string, opts trunnel.CompileOptions) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	base := trunnel.BaseNameOf(path)
	result, err := trunnel.Compile(base, string(src), opts)
	if err != nil {
		return err
	}
	if !writeCFiles {
		fmt.Println(result.Header)
		fmt.Println(result.Module)
		return nil
	}
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(targetDir, result.HeaderName), []byte(result.Header), 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(targetDir, result.ModuleName), []byte(result.Module), 0o644); err != nil {
		return err
	}
	log.WithField("schema", path).WithField("dir", targetDir).Info("wrote generated files")
	return nil
}
