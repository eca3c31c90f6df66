package pointcloud

import (
	"testing"

	"go.viam.com/test"
)

func TestOccupancyGridIdempotence(t *testing.T) {
	g, err := NewOccupancyGrid(0.01, 0, 0, 0, 0.5)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, g.Insert(0.1, 0.2, 0.3), test.ShouldBeTrue)
	for i := 0; i < 5; i++ {
		test.That(t, g.Insert(0.1, 0.2, 0.3), test.ShouldBeFalse)
	}

	// A nearby point in a different cell still inserts.
	test.That(t, g.Insert(0.1, 0.2, 0.32), test.ShouldBeTrue)

	g.Reset()
	test.That(t, g.Insert(0.1, 0.2, 0.3), test.ShouldBeTrue)
}

func TestOccupancyGridOutOfRange(t *testing.T) {
	g, err := NewOccupancyGrid(0.01, 0, 0, 0, 0.5)
	test.That(t, err, test.ShouldBeNil)

	for _, p := range [][3]float64{
		{0.6, 0, 0},
		{-0.6, 0, 0},
		{0, 0.51, 0},
		{0, 0, -1},
	} {
		test.That(t, g.Insert(p[0], p[1], p[2]), test.ShouldBeFalse)
	}

	// Rejections must not have set any cell.
	test.That(t, g.Insert(0.49, 0.49, 0.49), test.ShouldBeTrue)
}

func TestOccupancyGridInvalidConfig(t *testing.T) {
	_, err := NewOccupancyGrid(0, 0, 0, 0, 0.5)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewOccupancyGrid(0.01, 0, 0, 0, 0)
	test.That(t, err, test.ShouldNotBeNil)
}
