// Command validate checks a storm polygon feed for the data problems the overlay
// has to work around: missing fields, swapped or out-of-range coordinates,
// degenerate rings and unusable motion vectors.
//
// Usage:
//
//	go run ./cmd/validate -file data/polygons.json
//	go run ./cmd/validate -backend http://localhost:3000 -token $BACKEND_TOKEN
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	backendadapter "github.com/couchcryptid/storm-overlay-service/internal/adapter/backend"
	"github.com/couchcryptid/storm-overlay-service/internal/domain"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	file := flag.String("file", "", "path to a storm polygon JSON array")
	backend := flag.String("backend", "", "backend base URL to fetch polygons from")
	token := flag.String("token", "", "optional backend bearer token")
	flag.Parse()

	if (*file == "") == (*backend == "") {
		flag.Usage()
		os.Exit(1)
	}

	polys, err := load(*file, *backend, *token)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}
	os.Exit(run(os.Stdout, polys))
}

func load(file, backend, token string) ([]domain.StormPolygon, error) {
	if backend != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return backendadapter.NewClient(backend, token, 30*time.Second).StormPolygons(ctx)
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", file, err)
	}
	var polys []domain.StormPolygon
	if err := json.Unmarshal(data, &polys); err != nil {
		return nil, fmt.Errorf("parse %s: %w", file, err)
	}
	return polys, nil
}

func run(w io.Writer, polys []domain.StormPolygon) int {
	fmt.Fprintln(w, "=== Storm Polygon Feed Validation ===")
	fmt.Fprintln(w)

	phases := []*phase{
		validateFields(polys),
		validateCoordinates(polys),
		validateRings(polys),
		validateTracks(polys),
	}

	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Fprintf(w, "  %-42s %s\n", p.name, status)
	}
	fmt.Fprintf(w, "\nRecords: %d polygons\n", len(polys))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Fprintf(w, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			if i >= 20 {
				fmt.Fprintf(w, "  ... and %d more\n", len(p.errors)-20)
				break
			}
			fmt.Fprintf(w, "  %s\n", e)
		}
	}

	if !allPassed {
		return 1
	}
	return 0
}

func label(i int, p domain.StormPolygon) string {
	if p.Identifier != "" {
		return fmt.Sprintf("[%d %s]", i, p.Identifier)
	}
	return fmt.Sprintf("[%d]", i)
}

func validateFields(polys []domain.StormPolygon) *phase {
	p := &phase{name: "Required fields"}
	seen := make(map[string]int, len(polys))
	for i, poly := range polys {
		if poly.Identifier == "" {
			p.errorf("%s missing identifier", label(i, poly))
		} else if j, dup := seen[poly.Identifier]; dup {
			p.errorf("%s duplicate identifier (first at %d)", label(i, poly), j)
		} else {
			seen[poly.Identifier] = i
		}
		if poly.Severity == "" {
			p.errorf("%s missing severity", label(i, poly))
		}
		if poly.Expires != "" {
			if _, err := time.Parse(time.RFC3339, poly.Expires); err != nil {
				p.errorf("%s expires %q is not RFC 3339", label(i, poly), poly.Expires)
			}
		}
	}
	return p
}

func validateCoordinates(polys []domain.StormPolygon) *phase {
	p := &phase{name: "Coordinate order and range"}
	check := func(tag string, ring []domain.Coordinate) {
		for k, c := range ring {
			switch _, outcome := domain.NormalizeCoordinate(c); outcome {
			case domain.CoordinateSwapped:
				p.errorf("%s vertex %d (%g, %g) has lat/lng swapped", tag, k, c.Lat, c.Lng)
			case domain.CoordinateInvalid:
				p.errorf("%s vertex %d (%g, %g) is out of range", tag, k, c.Lat, c.Lng)
			}
		}
	}
	for i, poly := range polys {
		check(label(i, poly)+" polygon", poly.Polygon)
		check(label(i, poly)+" cellPolygon", poly.CellPolygon)
	}
	return p
}

func validateRings(polys []domain.StormPolygon) *phase {
	p := &phase{name: "Ring geometry"}
	for i, poly := range polys {
		if n := distinctVertices(poly.Polygon); n < 3 {
			p.errorf("%s polygon has %d distinct vertices", label(i, poly), n)
		}
		if len(poly.CellPolygon) > 0 {
			if n := distinctVertices(poly.CellPolygon); n < 3 {
				p.errorf("%s cellPolygon has %d distinct vertices", label(i, poly), n)
			}
		}
	}
	return p
}

func distinctVertices(ring []domain.Coordinate) int {
	uniq := slices.Clone(ring)
	slices.SortFunc(uniq, func(a, b domain.Coordinate) int {
		if a.Lat != b.Lat {
			if a.Lat < b.Lat {
				return -1
			}
			return 1
		}
		switch {
		case a.Lng < b.Lng:
			return -1
		case a.Lng > b.Lng:
			return 1
		}
		return 0
	})
	return len(slices.Compact(uniq))
}

func validateTracks(polys []domain.StormPolygon) *phase {
	p := &phase{name: "Motion vectors"}
	for i, poly := range polys {
		if (poly.Direction == nil) != (poly.Speed == nil) {
			p.errorf("%s has only one of direction and speed", label(i, poly))
			continue
		}
		if poly.Direction != nil && (*poly.Direction < 0 || *poly.Direction >= 360) {
			p.errorf("%s direction %g outside [0, 360)", label(i, poly), *poly.Direction)
		}
		if poly.Speed != nil && !poly.Speed.Valid {
			p.errorf("%s speed %q has no numeric value", label(i, poly), poly.Speed.Raw)
		}
	}
	return p
}
