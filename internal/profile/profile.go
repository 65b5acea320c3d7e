package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"ai-workout-planner/internal/database"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
)

// DefaultID is the key of the single stored profile row.
const DefaultID = "default"

var (
	experienceLevels = []string{"beginner", "intermediate", "advanced"}
	sexes            = []string{"male", "female", "other", "prefer_not_to_say"}
)

// Profile is the user's self-description used to personalise menus.
// Every field is optional.
type Profile struct {
	ID                 string   `db:"id" json:"-"`
	Goal               *string  `db:"goal" json:"goal,omitempty"`
	FrequencyPerWeek   *int     `db:"frequency_per_week" json:"frequencyPerWeek,omitempty" validate:"omitempty,min=1,max=14"`
	SessionDurationMin *int     `db:"session_duration_min" json:"sessionDurationMin,omitempty" validate:"omitempty,min=1"`
	Equipment          *string  `db:"equipment" json:"equipment,omitempty"`
	InjuryOrPain       *string  `db:"injury_or_pain" json:"injuryOrPain,omitempty"`
	ExperienceLevel    *string  `db:"experience_level" json:"experienceLevel,omitempty" validate:"omitempty,oneof=beginner intermediate advanced"`
	Age                *int     `db:"age" json:"age,omitempty" validate:"omitempty,min=1,max=130"`
	Sex                *string  `db:"sex" json:"sex,omitempty" validate:"omitempty,oneof=male female other prefer_not_to_say"`
	HeightCm           *float64 `db:"height_cm" json:"heightCm,omitempty" validate:"omitempty,gt=0"`
	WeightKg           *float64 `db:"weight_kg" json:"weightKg,omitempty" validate:"omitempty,gt=0"`
	UpdatedAt          string   `db:"updated_at" json:"updatedAt,omitempty"`
}

// FormatForPrompt renders the profile as a "# Profile" block of key: value
// lines. It returns "" when no field is set.
func FormatForPrompt(p *Profile) string {
	if p == nil {
		return ""
	}
	var lines []string
	add := func(label string, value *string) {
		if value == nil {
			return
		}
		if v := strings.TrimSpace(*value); v != "" {
			lines = append(lines, label+": "+v)
		}
	}
	addInt := func(label string, value *int) {
		if value != nil {
			lines = append(lines, label+": "+strconv.Itoa(*value))
		}
	}
	addFloat := func(label string, value *float64) {
		if value != nil {
			lines = append(lines, label+": "+strconv.FormatFloat(*value, 'f', -1, 64))
		}
	}

	add("goal", p.Goal)
	addInt("frequency_per_week", p.FrequencyPerWeek)
	addInt("session_duration_min", p.SessionDurationMin)
	add("equipment", p.Equipment)
	add("injury_or_pain", p.InjuryOrPain)
	add("experience_level", p.ExperienceLevel)
	addInt("age", p.Age)
	add("sex", p.Sex)
	addFloat("height_cm", p.HeightCm)
	addFloat("weight_kg", p.WeightKg)

	if len(lines) == 0 {
		return ""
	}
	return "# Profile\n" + strings.Join(lines, "\n")
}

// Repository reads and writes the stored profile.
type Repository struct {
	db       *sqlx.DB
	validate *validator.Validate
	now      func() time.Time
}

// NewRepository creates a new Repository.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db, validate: validator.New(), now: time.Now}
}

// Get returns the stored profile, or nil if none was saved. Unknown
// experience levels and sexes read back as unset.
func (r *Repository) Get(ctx context.Context) (*Profile, error) {
	var p Profile
	err := r.db.GetContext(ctx, &p, `SELECT id, goal, frequency_per_week, session_duration_min, equipment,
		injury_or_pain, experience_level, age, sex, height_cm, weight_kg, updated_at
		FROM user_profile WHERE id = ? LIMIT 1`, DefaultID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	p.ExperienceLevel = keepIfOneOf(p.ExperienceLevel, experienceLevels)
	p.Sex = keepIfOneOf(p.Sex, sexes)
	return &p, nil
}

// Save validates and upserts the profile, returning the stored value.
func (r *Repository) Save(ctx context.Context, p Profile) (*Profile, error) {
	if err := r.validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, fmt.Errorf("invalid profile field %s (%s)", verrs[0].Field(), verrs[0].Tag())
		}
		return nil, fmt.Errorf("invalid profile: %w", err)
	}

	p.ID = DefaultID
	p.UpdatedAt = database.FormatTime(r.now())
	_, err := r.db.NamedExecContext(ctx, `INSERT INTO user_profile (
			id, goal, frequency_per_week, session_duration_min, equipment, injury_or_pain,
			experience_level, age, sex, height_cm, weight_kg, updated_at
		) VALUES (
			:id, :goal, :frequency_per_week, :session_duration_min, :equipment, :injury_or_pain,
			:experience_level, :age, :sex, :height_cm, :weight_kg, :updated_at
		)
		ON CONFLICT(id) DO UPDATE SET
			goal = excluded.goal,
			frequency_per_week = excluded.frequency_per_week,
			session_duration_min = excluded.session_duration_min,
			equipment = excluded.equipment,
			injury_or_pain = excluded.injury_or_pain,
			experience_level = excluded.experience_level,
			age = excluded.age,
			sex = excluded.sex,
			height_cm = excluded.height_cm,
			weight_kg = excluded.weight_kg,
			updated_at = excluded.updated_at`, p)
	if err != nil {
		return nil, fmt.Errorf("failed to save profile: %w", err)
	}
	return &p, nil
}

func keepIfOneOf(v *string, allowed []string) *string {
	if v == nil {
		return nil
	}
	for _, a := range allowed {
		if *v == a {
			return v
		}
	}
	return nil
}
