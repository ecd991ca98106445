package geo

import (
	"math"
	"testing"
	"time"
)

func TestDistanceApproximations(t *testing.T) {
	a := Point{Lon: 0, Lat: 0}
	b := Point{Lon: 0, Lat: 0.1} // 约 11.1km 正北

	de := Equirectangular(a, b)
	dh := Haversine(a, b)

	if math.Abs(de-11119) > 50 {
		t.Fatalf("equirectangular distance off: got %.0f m", de)
	}
	if math.Abs(dh-11119) > 50 {
		t.Fatalf("haversine distance off: got %.0f m", dh)
	}
	// 赤道附近小距离下两种模型应基本一致
	if math.Abs(de-dh) > 10 {
		t.Fatalf("models diverge too much: %.1f vs %.1f", de, dh)
	}
}

func TestDistanceByName(t *testing.T) {
	a := Point{Lon: 10, Lat: 45}
	b := Point{Lon: 10.2, Lat: 45.1}

	if got := DistanceByName("spherical")(a, b); math.Abs(got-Haversine(a, b)) > 1e-9 {
		t.Fatalf("expected spherical model")
	}
	if got := DistanceByName("planar")(a, b); math.Abs(got-Equirectangular(a, b)) > 1e-9 {
		t.Fatalf("expected planar model")
	}
	if got := DistanceByName("")(a, b); math.Abs(got-Equirectangular(a, b)) > 1e-9 {
		t.Fatalf("expected planar fallback")
	}
}

func TestTravelTime(t *testing.T) {
	// 11.1km @ 60km/h ≈ 11.1min
	d := TravelTime(11100, 60)
	want := time.Duration(11.1 * float64(time.Minute))
	if diff := d - want; diff < -time.Second || diff > time.Second {
		t.Fatalf("travel time off: got %v want ~%v", d, want)
	}

	if TravelTime(1000, 0) != 0 {
		t.Fatalf("zero speed should yield zero duration")
	}
	if TravelTime(0, 60) != 0 {
		t.Fatalf("zero distance should yield zero duration")
	}
}
