package wbdclip

import (
	"context"
	"fmt"

	"github.com/airbusgeo/godal"
)

// GodalQuery reads attribute values in-process through GDAL/OGR. godal.RegisterAll
// must have been called.
type GodalQuery struct {
	Dataset string
}

func (q GodalQuery) Values(ctx context.Context, layer, column string) ([]string, error) {
	ds, err := godal.Open(q.Dataset, godal.VectorOnly())
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", q.Dataset, err)
	}
	defer ds.Close()

	var lyr *godal.Layer
	for _, l := range ds.Layers() {
		if l.Name() == layer {
			l := l
			lyr = &l
			break
		}
	}
	if lyr == nil {
		return nil, fmt.Errorf("layer %s not found in %s", layer, q.Dataset)
	}

	var values []string
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		feat := lyr.NextFeature()
		if feat == nil {
			break
		}
		fld, ok := feat.Fields()[column]
		if !ok {
			feat.Close()
			return nil, fmt.Errorf("column %s not found in layer %s", column, layer)
		}
		values = append(values, fld.String())
		feat.Close()
	}
	return values, nil
}
