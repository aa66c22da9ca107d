package rating_test

import (
	"testing"

	"github.com/dotabod/backend-sub002/internal/domain/rating"
	. "github.com/smartystreets/goconvey/convey"
)

func TestAdjuster(t *testing.T) {
	Convey("Given a default adjuster", t, func() {
		a := rating.NewAdjuster()

		Convey("Then a solo win adds the full step", func() {
			So(a.Delta(true, false), ShouldEqual, 25)
			So(a.Apply(4000, true, false), ShouldEqual, 4025)
		})

		Convey("Then a solo loss subtracts it", func() {
			So(a.Apply(4000, false, false), ShouldEqual, 3975)
		})

		Convey("Then party results are scaled", func() {
			So(a.Delta(true, true), ShouldEqual, 20)
			So(a.Delta(false, true), ShouldEqual, -20)
		})

		Convey("Then the rating never goes negative", func() {
			So(a.Apply(10, false, false), ShouldEqual, 0)
		})
	})

	Convey("Given a configured adjuster", t, func() {
		a := rating.NewAdjuster(rating.WithStep(30), rating.WithPartyMultiplier(0.5), rating.WithStep(-1))

		Convey("Then invalid options are ignored", func() {
			So(a.Delta(true, false), ShouldEqual, 30)
			So(a.Delta(true, true), ShouldEqual, 15)
		})
	})

	Convey("Given lobby types", t, func() {
		ranked, normal := 7, 0
		So(rating.Eligible(&ranked), ShouldBeTrue)
		So(rating.Eligible(&normal), ShouldBeFalse)
		So(rating.Eligible(nil), ShouldBeFalse)
	})
}
