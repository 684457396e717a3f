package placement

import (
	"github.com/go-gl/mathgl/mgl64"

	"structspawn.ai/internal/sim/geom"
)

// Shape is a collision test shape owned by the world backend. Release must be
// called exactly once.
type Shape interface {
	Release()
}

// CollisionProbe answers point and shape queries against collidable geometry.
type CollisionProbe interface {
	IsInsideWorldBounds(p mgl64.Vec3) bool
	NewSphereShape(radius float64) Shape
	// ShapePenetrates reports whether shape placed at p with rotation rot
	// intersects anything collidable. ignore names one entity to skip ("" for
	// none).
	ShapePenetrates(shape Shape, p mgl64.Vec3, rot mgl64.Quat, iterations int, ignore string) bool
}

// Obstacle is a large static body (e.g. a planet) that a candidate sphere can
// overlap without that overlap being a hard collision.
type Obstacle interface {
	ObstacleID() string
}

// LocationCorrector is implemented by obstacles that can nudge a position that
// is topologically free but geometrically awkward, such as one sitting just
// inside a planet's surface curvature.
type LocationCorrector interface {
	CorrectLocation(ref mgl64.Vec3, radius float64) mgl64.Vec3
}

// ObstacleQuery finds the large static obstacle overlapping a sphere.
type ObstacleQuery interface {
	OverlappingObstacle(s geom.Sphere) (Obstacle, bool)
}
