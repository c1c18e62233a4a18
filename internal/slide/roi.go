package slide

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"slide-tiler/pkg/geometry"
)

// LoadROIs reads region-of-interest polygons for a slide from
// roiDir/<name>.csv. Rows are either "x,y" or "roi_name,x,y"; in the
// latter form rows sharing a name form one polygon. A header row is
// skipped automatically. A missing file is reported with os.IsNotExist so
// callers can apply their skip-missing policy.
func LoadROIs(roiDir, name string) ([]geometry.Polygon, error) {
	path := filepath.Join(roiDir, name+".csv")
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse ROI %s: %w", path, err)
	}

	named := make(map[string]geometry.Polygon)
	var order []string
	for i, row := range rows {
		label, xs, ys := "", "", ""
		switch len(row) {
		case 2:
			xs, ys = row[0], row[1]
		case 3:
			label, xs, ys = row[0], row[1], row[2]
		default:
			return nil, fmt.Errorf("parse ROI %s: row %d has %d fields", path, i+1, len(row))
		}

		x, errX := strconv.ParseFloat(xs, 64)
		y, errY := strconv.ParseFloat(ys, 64)
		if errX != nil || errY != nil {
			if i == 0 {
				continue // header row
			}
			return nil, fmt.Errorf("parse ROI %s: row %d: bad coordinates %q,%q", path, i+1, xs, ys)
		}

		if _, seen := named[label]; !seen {
			order = append(order, label)
		}
		named[label] = append(named[label], geometry.Point2D{X: x, Y: y})
	}

	var polys []geometry.Polygon
	for _, label := range order {
		poly := named[label]
		if len(poly) >= 3 {
			polys = append(polys, poly)
		}
	}
	if len(polys) == 0 {
		return nil, fmt.Errorf("ROI file %s contains no polygons", path)
	}
	return polys, nil
}
