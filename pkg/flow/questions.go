package flow

import "vibe-report/pkg/models"

// VoicePrompts are shown one at a time before the recording step.
var VoicePrompts = []string{
	"Tell us about yourself - what's your travel personality?",
	"Beach bum or mountain climber? Spill the tea!",
	"Party animal or zen master? What's your vibe?",
	"How much would you spend on a perfect sunset dinner?",
	"What's the weirdest travel experience you've had?",
	"What's the best and worst thing about your dream destination?",
}

type SurveyQuestion struct {
	Key     string   `json:"key"`
	Title   string   `json:"title"`
	Options []string `json:"options"`
}

// SurveyQuestions is the multiple-choice form, in display order.
var SurveyQuestions = []SurveyQuestion{
	{
		Key:     models.KeyIntroRole,
		Title:   "Introduce yourself briefly: who are you?",
		Options: []string{"Student", "Digital Nomad", "Local"},
	},
	{
		Key:     models.KeyIntroFocus,
		Title:   "Trip focus?",
		Options: []string{"Party", "Relaxing"},
	},
	{
		Key:     models.KeyEscape,
		Title:   "Which felt like the bigger escape?",
		Options: []string{"Beaches", "Mountains/Trekking", "Club Hopping/Partying", "Other"},
	},
	{
		Key:   models.KeyMotivation,
		Title: "Primary motivation for your last trip to Goa?",
		Options: []string{
			"Structured Socializing",
			"Structured Relaxation",
			"Pure Logistics",
			"Spontaneous Leisure",
		},
	},
	{
		Key:   models.KeyRegion,
		Title: "Preferred area for activities?",
		Options: []string{
			"North Goa (I prioritize speed/action)",
			"South Goa (I prioritize safety/vibe)",
			"Both (I am comfortable crossing the North/South divide)",
		},
	},
	{
		Key:   models.KeyTimeWaster,
		Title: "Most annoying time-waster when planning leisure activities?",
		Options: []string{
			"Manual data entry",
			"Finding vendor contact info/prices",
			"Negotiating transport/logistics",
			"Waiting for friends to commit",
		},
	},
	{
		Key:   models.KeyPartnerSkip,
		Title: "Did you skip any activity because you couldn't find a reliable partner?",
		Options: []string{
			"Yes, definitely (more than once)",
			"Yes, maybe one time",
			"No, I always found someone",
			"No, I prefer doing activities alone",
		},
	},
	{
		Key:     models.KeyBudget,
		Title:   "Typical budget for a single afternoon activity?",
		Options: []string{"Below 500", "500-1500", "1500-3000", "Over 3000"},
	},
	{
		Key:   models.KeyConcern,
		Title: "Biggest concern when joining a spontaneous social event?",
		Options: []string{
			"High price/getting ripped off",
			"Low quality/getting bored",
			"Safety/verification",
			"Logistics/Transport getting home later",
		},
	},
}

func LookupQuestion(key string) (SurveyQuestion, bool) {
	for _, q := range SurveyQuestions {
		if q.Key == key {
			return q, true
		}
	}
	return SurveyQuestion{}, false
}

func (q SurveyQuestion) Allows(option string) bool {
	for _, o := range q.Options {
		if o == option {
			return true
		}
	}
	return false
}
