package remote

import (
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// feedbackBody is implemented by every JSON body the feedback endpoint
// accepts. Each kind has its own struct so the wire shape is fixed at
// compile time.
type feedbackBody interface {
	feedbackType() FeedbackKind
}

type feedbackHeader struct {
	Type      FeedbackKind `json:"type"`
	Timestamp float64      `json:"timestamp"`
}

func (h feedbackHeader) feedbackType() FeedbackKind { return h.Type }

type radioStartedBody struct {
	feedbackHeader
	From string `json:"from"`
}

type trackStartedBody struct {
	feedbackHeader
	TrackID string `json:"trackId"`
}

type trackPlayedBody struct {
	feedbackHeader
	TrackID            string `json:"trackId"`
	TotalPlayedSeconds int    `json:"totalPlayedSeconds"`
}

func buildFeedback(fb Feedback, from string, now time.Time) (feedbackBody, error) {
	at := fb.At
	if at.IsZero() {
		at = now
	}
	h := feedbackHeader{
		Type:      fb.Kind,
		Timestamp: float64(at.UnixNano()) / 1e9,
	}
	switch fb.Kind {
	case FeedbackRadioStarted:
		return radioStartedBody{feedbackHeader: h, From: from}, nil
	case FeedbackTrackStarted:
		if fb.TrackID == "" {
			return nil, fmt.Errorf("%s feedback without track id", fb.Kind)
		}
		return trackStartedBody{feedbackHeader: h, TrackID: fb.TrackID}, nil
	case FeedbackTrackFinished, FeedbackSkip:
		if fb.TrackID == "" {
			return nil, fmt.Errorf("%s feedback without track id", fb.Kind)
		}
		return trackPlayedBody{feedbackHeader: h, TrackID: fb.TrackID, TotalPlayedSeconds: fb.TotalPlayedSeconds}, nil
	default:
		return nil, fmt.Errorf("unknown feedback kind %q", fb.Kind)
	}
}

// playAudioForm is the form body of /play-audio.
type playAudioForm struct {
	TrackID     string
	FromCache   bool
	From        string
	PlayID      string
	UID         int
	Timestamp   time.Time
	DurationSec int
	PlayedSec   int
	AlbumID     int
	ClientNow   time.Time
}

const traceTimeLayout = "2006-01-02T15:04:05.000000Z"

func (f playAudioForm) values() url.Values {
	v := url.Values{}
	v.Set("track-id", f.TrackID)
	v.Set("from-cache", strconv.FormatBool(f.FromCache))
	v.Set("from", f.From)
	v.Set("play-id", f.PlayID)
	v.Set("uid", strconv.Itoa(f.UID))
	v.Set("timestamp", f.Timestamp.UTC().Format(traceTimeLayout))
	v.Set("track-length-seconds", strconv.Itoa(f.DurationSec))
	v.Set("total-played-seconds", strconv.Itoa(f.PlayedSec))
	v.Set("end-position-seconds", strconv.Itoa(f.PlayedSec))
	v.Set("album-id", strconv.Itoa(f.AlbumID))
	v.Set("client-now", f.ClientNow.UTC().Format(traceTimeLayout))
	return v
}

func collectionPath(uid int, c Collection, a Action) (string, error) {
	switch c {
	case Likes, Dislikes:
	default:
		return "", fmt.Errorf("unknown collection %q", c)
	}
	var action string
	switch a {
	case Add:
		action = "add-multiple"
	case Remove:
		action = "remove"
	default:
		return "", fmt.Errorf("unknown action %q", a)
	}
	return fmt.Sprintf("/users/%d/%s/tracks/%s", uid, c, action), nil
}
