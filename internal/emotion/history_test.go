package emotion

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/satriahrh/emora/domain/entities"
)

func TestHistory(t *testing.T) {
	Convey("Given an empty history", t, func() {
		h := NewHistory()

		Convey("Recent and dominant are neutral", func() {
			So(h.Recent(), ShouldEqual, neutral)
			So(h.Dominant(), ShouldEqual, neutral)
			So(h.Len(), ShouldEqual, 0)
		})

		Convey("When labels are appended", func() {
			for _, e := range []entities.Emotion{sad, happy, sad, angry} {
				h.Append(e)
			}

			Convey("Recent is the last one", func() {
				So(h.Recent(), ShouldEqual, angry)
			})

			Convey("Dominant is the most frequent", func() {
				So(h.Dominant(), ShouldEqual, sad)
			})

			Convey("Snapshot is a copy", func() {
				snap := h.Snapshot()
				snap[0] = happy
				So(h.Snapshot()[0], ShouldEqual, sad)
			})
		})

		Convey("Ties follow enumeration order", func() {
			h.Append(sad)
			h.Append(happy)
			So(h.Dominant(), ShouldEqual, happy)

			h.Append(neutral)
			h.Append(neutral)
			So(h.Dominant(), ShouldEqual, neutral)
		})
	})
}

func TestStreak(t *testing.T) {
	Convey("Given a streak of three", t, func() {
		s := NewStreak(0)

		Convey("It fires on the third consecutive sad label", func() {
			_, fired := s.Observe(sad)
			So(fired, ShouldBeFalse)
			_, fired = s.Observe(sad)
			So(fired, ShouldBeFalse)
			e, fired := s.Observe(sad)
			So(fired, ShouldBeTrue)
			So(e, ShouldEqual, sad)

			Convey("And resets afterwards", func() {
				_, fired := s.Observe(sad)
				So(fired, ShouldBeFalse)
			})
		})

		Convey("A different label restarts the count", func() {
			s.Observe(sad)
			s.Observe(sad)
			s.Observe(angry)
			_, fired := s.Observe(angry)
			So(fired, ShouldBeFalse)
			_, fired = s.Observe(angry)
			So(fired, ShouldBeTrue)
		})

		Convey("Neutral never fires", func() {
			for i := 0; i < 5; i++ {
				_, fired := s.Observe(neutral)
				So(fired, ShouldBeFalse)
			}
		})

		Convey("Surprise does not prompt", func() {
			for i := 0; i < 5; i++ {
				_, fired := s.Observe(entities.EmotionSurprise)
				So(fired, ShouldBeFalse)
			}
		})
	})
}
