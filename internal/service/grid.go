package service

import (
	"math"

	"github.com/formbricks/atlas/internal/models"
)

// maxGridSpacing keeps small grids compact around the canvas centre.
const maxGridSpacing = 200.0

// gridLayout places n points row by row on a grid centred on the canvas.
// cols = ceil(sqrt(n)) and rows = ceil(n/cols); spacing is the largest cell that fits the padded area.
func gridLayout(n int, canvas Canvas) []point {
	if n <= 0 {
		return nil
	}

	cols := int(math.Ceil(math.Sqrt(float64(n))))
	rows := (n + cols - 1) / cols

	usableW := canvas.Width - 2*canvas.Padding
	usableH := canvas.Height - 2*canvas.Padding
	spacing := math.Min(maxGridSpacing, math.Min(usableW/float64(cols), usableH/float64(rows)))

	cx, cy := canvas.Center()
	startX := cx - spacing*float64(cols-1)/2
	startY := cy - spacing*float64(rows-1)/2

	pts := make([]point, n)
	for i := range pts {
		row, col := i/cols, i%cols
		pts[i] = point{
			X: startX + spacing*float64(col),
			Y: startY + spacing*float64(row),
		}
	}

	return pts
}

// gridCellTolerance is how close a stored position must be to a grid cell to occupy it.
const gridCellTolerance = 1.0

// freeGridCells returns need cells of a grid of at least total cells that no stored position
// occupies. The grid grows one cell at a time until enough cells are free.
func freeGridCells(total, need int, stored []models.Position, canvas Canvas) []point {
	if need <= 0 {
		return nil
	}

	for n := max(total, need); ; n++ {
		free := make([]point, 0, need)

		for _, cell := range gridLayout(n, canvas) {
			if cellOccupied(cell, stored) {
				continue
			}

			free = append(free, cell)
			if len(free) == need {
				return free
			}
		}
	}
}

func cellOccupied(cell point, stored []models.Position) bool {
	for _, s := range stored {
		if math.Abs(s.X-cell.X) < gridCellTolerance && math.Abs(s.Y-cell.Y) < gridCellTolerance {
			return true
		}
	}

	return false
}

// rescaleToCanvas maps coords into the padded canvas using per-axis min/max of the batch.
// An axis with no spread collapses to the canvas centre on that axis.
func rescaleToCanvas(coords [][2]float64, canvas Canvas) []point {
	if len(coords) == 0 {
		return nil
	}

	minX, maxX := coords[0][0], coords[0][0]
	minY, maxY := coords[0][1], coords[0][1]

	for _, c := range coords[1:] {
		minX, maxX = math.Min(minX, c[0]), math.Max(maxX, c[0])
		minY, maxY = math.Min(minY, c[1]), math.Max(maxY, c[1])
	}

	cx, cy := canvas.Center()
	usableW := canvas.Width - 2*canvas.Padding
	usableH := canvas.Height - 2*canvas.Padding

	pts := make([]point, len(coords))
	for i, c := range coords {
		x, y := cx, cy
		if rangeX := maxX - minX; rangeX > 0 {
			x = canvas.Padding + (c[0]-minX)/rangeX*usableW
		}

		if rangeY := maxY - minY; rangeY > 0 {
			y = canvas.Padding + (c[1]-minY)/rangeY*usableH
		}

		pts[i] = point{X: x, Y: y}
	}

	return pts
}
