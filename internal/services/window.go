package services

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tonymishler/vibeathon-engineering-leads-sub000/internal/models"
)

const keyContributorCount = 5

const peakHourCount = 3

// BuildWindow derives the bounded analysis window for one channel from its
// flattened message set. It is a pure function of its inputs: the same
// messages, reference time, and window length always produce identical
// output (IDs aside). Every window built today is time-bounded; the
// message_limit variant exists only in the data model.
func BuildWindow(channelID string, messages []models.Message, now time.Time, windowDays int) *models.AnalysisWindow {
	end := now
	start := now.AddDate(0, 0, -windowDays)

	return &models.AnalysisWindow{
		ID:           uuid.New().String(),
		ChannelID:    channelID,
		Start:        start,
		End:          end,
		MessageCount: len(messages),
		Type:         models.WindowTimeLimit,
		Metrics:      buildMetrics(messages, windowDays),
	}
}

func buildMetrics(messages []models.Message, windowDays int) models.WindowMetrics {
	participants := participantFrequencies(messages)

	contributors := make([]string, 0, keyContributorCount)
	for i, p := range participants {
		if i == keyContributorCount {
			break
		}
		contributors = append(contributors, p.UserID)
	}

	threads := make(map[string]struct{})
	for _, msg := range messages {
		if msg.ThreadRootID != "" {
			threads[msg.ThreadRootID] = struct{}{}
		}
	}

	return models.WindowMetrics{
		Participants:    participants,
		KeyContributors: contributors,
		MessagesPerDay:  float64(len(messages)) / float64(windowDays),
		ActiveThreads:   len(threads),
		PeakHours:       peakHours(messages),
	}
}

// participantFrequencies returns authors ordered by message count
// descending, ties broken by first appearance in the message set.
func participantFrequencies(messages []models.Message) []models.ParticipantCount {
	counts := make(map[string]int)
	var order []string
	for _, msg := range messages {
		if msg.UserID == "" {
			continue
		}
		if _, seen := counts[msg.UserID]; !seen {
			order = append(order, msg.UserID)
		}
		counts[msg.UserID]++
	}

	participants := make([]models.ParticipantCount, 0, len(order))
	for _, user := range order {
		participants = append(participants, models.ParticipantCount{UserID: user, Count: counts[user]})
	}
	sort.SliceStable(participants, func(i, j int) bool {
		return participants[i].Count > participants[j].Count
	})
	return participants
}

// peakHours buckets messages by hour of day irrespective of date and
// returns up to three hour markers ranked by count descending, ties broken
// by the lower hour.
func peakHours(messages []models.Message) []int {
	var buckets [24]int
	for _, msg := range messages {
		buckets[msg.Timestamp.Hour()]++
	}

	hours := make([]int, 0, 24)
	for hour, count := range buckets {
		if count > 0 {
			hours = append(hours, hour)
		}
	}
	sort.Slice(hours, func(i, j int) bool {
		if buckets[hours[i]] != buckets[hours[j]] {
			return buckets[hours[i]] > buckets[hours[j]]
		}
		return hours[i] < hours[j]
	})

	if len(hours) > peakHourCount {
		hours = hours[:peakHourCount]
	}
	return hours
}
