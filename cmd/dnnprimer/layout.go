package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/go-dnn-primer/internal/layout"
)

type layoutOptions struct {
	Dims    []int64
	DType   string
	Tag     string
	Strides []int64
	Index   []int64
	Format  string
}

// layoutReport is what the layout command prints.
type layoutReport struct {
	Desc   layout.ExternalDesc `json:"desc"`
	String string              `json:"string"`
	Span   int64               `json:"span"`
	Dense  bool                `json:"dense"`
	Index  []int64             `json:"index,omitempty"`
	Offset *int64              `json:"offset,omitempty"`
}

func newLayoutCmd() *cobra.Command {
	var opts layoutOptions

	cmd := &cobra.Command{
		Use:   "layout",
		Short: "Describe a layout: strides, span, tag and optional element offset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rep, err := describeLayout(opts)
			if err != nil {
				return err
			}

			return printLayout(cmd.OutOrStdout(), rep, opts.Format)
		},
	}

	cmd.Flags().Int64SliceVar(&opts.Dims, "dims", nil, "Logical dims, outermost first (e.g. 1,3,13,13)")
	cmd.Flags().StringVar(&opts.DType, "dtype", "f32", "Element type: f32|s32|s8|u8")
	cmd.Flags().StringVar(&opts.Tag, "tag", "", "Format tag (nchw, nhwc, ab, ba, acdb, ...)")
	cmd.Flags().Int64SliceVar(&opts.Strides, "strides", nil, "Explicit strides in elements")
	cmd.Flags().Int64SliceVar(&opts.Index, "index", nil, "Logical index to translate to an offset")
	cmd.Flags().StringVar(&opts.Format, "format", "table", "Output format: table|json")

	return cmd
}

func describeLayout(opts layoutOptions) (layoutReport, error) {
	if opts.Format != "table" && opts.Format != "json" {
		return layoutReport{}, errors.New("--format must be 'table' or 'json'")
	}

	if len(opts.Dims) == 0 {
		return layoutReport{}, errors.New("--dims is required")
	}

	if opts.Tag == "" && len(opts.Strides) == 0 {
		return layoutReport{}, errors.New("one of --tag or --strides is required")
	}

	desc, err := layout.Import(layout.ExternalDesc{
		Dims:      opts.Dims,
		DataType:  opts.DType,
		FormatTag: opts.Tag,
		Strides:   opts.Strides,
	})
	if errors.Is(err, layout.ErrInvalidLayoutName) && opts.Tag != "" {
		return layoutReport{}, fmt.Errorf("%w (named tags for rank %d: %s, or any letter permutation)",
			err, len(opts.Dims), strings.Join(layout.KnownTags(len(opts.Dims)), ", "))
	}

	if err != nil {
		return layoutReport{}, err
	}

	if desc.Layout.IsAny() {
		return layoutReport{}, fmt.Errorf("%w: %s has no strides until a primitive resolves it", layout.ErrUnresolvedLayout, desc)
	}

	span, err := desc.Span()
	if err != nil {
		return layoutReport{}, err
	}

	rep := layoutReport{
		Desc:   desc.Export(),
		String: desc.String(),
		Span:   span,
		Dense:  desc.Layout.Dense(desc.Shape),
	}

	if len(opts.Index) > 0 {
		off, err := desc.Offset(opts.Index)
		if err != nil {
			return layoutReport{}, err
		}

		rep.Index = opts.Index
		rep.Offset = &off
	}

	return rep, nil
}

func printLayout(w io.Writer, rep layoutReport, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		return enc.Encode(rep)
	}

	sb := &strings.Builder{}

	fmt.Fprintf(sb, "%-8s %s\n", "desc", rep.String)
	fmt.Fprintf(sb, "%-8s %s\n", "dims", joinInts(rep.Desc.Dims))
	fmt.Fprintf(sb, "%-8s %s\n", "strides", joinInts(rep.Desc.Strides))

	tag := rep.Desc.FormatTag
	if tag == "" {
		tag = "-"
	}

	fmt.Fprintf(sb, "%-8s %s\n", "tag", tag)
	fmt.Fprintf(sb, "%-8s %d\n", "span", rep.Span)
	fmt.Fprintf(sb, "%-8s %t\n", "dense", rep.Dense)

	if rep.Offset != nil {
		fmt.Fprintf(sb, "%-8s %s -> %d\n", "offset", joinInts(rep.Index), *rep.Offset)
	}

	_, err := io.WriteString(w, sb.String())

	return err
}

func joinInts(v []int64) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = fmt.Sprint(x)
	}

	return strings.Join(parts, ",")
}
