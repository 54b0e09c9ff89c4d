package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownTopic = errors.New("unknown topic")

// Topic is the closed set of classifications attached to every item
type Topic string

const (
	TopicGolf   Topic = "golf"
	TopicNews   Topic = "news"
	TopicFood   Topic = "food"
	TopicMovies Topic = "movies"
	TopicHobby  Topic = "hobby"
	TopicGames  Topic = "games"
)

// Topics lists every known topic in declaration order
var Topics = []Topic{TopicGolf, TopicNews, TopicFood, TopicMovies, TopicHobby, TopicGames}

func (t Topic) Valid() bool {
	switch t {
	case TopicGolf, TopicNews, TopicFood, TopicMovies, TopicHobby, TopicGames:
		return true
	}
	return false
}

func (t Topic) String() string {
	return string(t)
}

// ParseTopic accepts only the known topic names. Matching is exact.
func ParseTopic(s string) (Topic, error) {
	t := Topic(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q (expected one of %s)", ErrUnknownTopic, s, topicNames())
	}
	return t, nil
}

func (t *Topic) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseTopic(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func topicNames() string {
	names := make([]string, len(Topics))
	for i, t := range Topics {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}
