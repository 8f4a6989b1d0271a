package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ykst615/learn-zhihu-api/internal/auth"
	"github.com/ykst615/learn-zhihu-api/internal/models"
)

const maxBodyBytes = 1 << 20

// --- Request payloads ---

type createUserRequest struct {
	Name      string `json:"name" validate:"required,min=1,max=50"`
	Password  string `json:"password" validate:"required,min=6,bcryptmax"`
	AvatarURL string `json:"avatar_url" validate:"omitempty,url"`
	Gender    string `json:"gender" validate:"omitempty,oneof=male female unknown"`
	Headline  string `json:"headline" validate:"max=200"`
}

type loginRequest struct {
	Name     string `json:"name" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type employmentInput struct {
	Company string `json:"company" validate:"required"`
	Job     string `json:"job" validate:"required"`
}

type educationInput struct {
	School         string `json:"school" validate:"required"`
	Major          string `json:"major" validate:"required"`
	Diploma        int    `json:"diploma" validate:"omitempty,min=1,max=5"`
	EntranceYear   int    `json:"entrance_year" validate:"omitempty,min=1900,max=2100"`
	GraduationYear int    `json:"graduation_year" validate:"omitempty,min=1900,max=2100,gtefield=EntranceYear"`
}

// updateUserRequest only carries the fields present in the body.
type updateUserRequest struct {
	Name        *string            `json:"name" validate:"omitnil,min=1,max=50"`
	Password    *string            `json:"password" validate:"omitnil,min=6,bcryptmax"`
	AvatarURL   *string            `json:"avatar_url" validate:"omitempty,url"`
	Gender      *string            `json:"gender" validate:"omitnil,oneof=male female unknown"`
	Headline    *string            `json:"headline" validate:"omitempty,max=200"`
	Locations   *[]string          `json:"locations" validate:"omitempty,dive,required"`
	Business    *string            `json:"business"`
	Employments *[]employmentInput `json:"employments" validate:"omitempty,dive"`
	Educations  *[]educationInput  `json:"educations" validate:"omitempty,dive"`
}

func (req updateUserRequest) patch() models.UserPatch {
	p := models.UserPatch{
		Name:      req.Name,
		AvatarURL: req.AvatarURL,
		Gender:    req.Gender,
		Headline:  req.Headline,
		Locations: req.Locations,
		Business:  req.Business,
	}
	if req.Employments != nil {
		list := make([]models.Employment, 0, len(*req.Employments))
		for _, e := range *req.Employments {
			list = append(list, models.Employment{Company: e.Company, Job: e.Job})
		}
		p.Employments = &list
	}
	if req.Educations != nil {
		list := make([]models.Education, 0, len(*req.Educations))
		for _, e := range *req.Educations {
			list = append(list, models.Education{
				School:         e.School,
				Major:          e.Major,
				Diploma:        e.Diploma,
				EntranceYear:   e.EntranceYear,
				GraduationYear: e.GraduationYear,
			})
		}
		p.Educations = &list
	}
	return p
}

type createTopicRequest struct {
	Name         string `json:"name" validate:"required,min=1,max=100"`
	AvatarURL    string `json:"avatar_url" validate:"omitempty,url"`
	Introduction string `json:"introduction" validate:"max=500"`
}

type updateTopicRequest struct {
	Name         *string `json:"name" validate:"omitnil,min=1,max=100"`
	AvatarURL    *string `json:"avatar_url" validate:"omitempty,url"`
	Introduction *string `json:"introduction" validate:"omitempty,max=500"`
}

// --- Decoding and validation ---

// ValidationErrorResponse lists the failing fields by their JSON name.
type ValidationErrorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// bcrypt only hashes the first 72 bytes; max counts runes.
	_ = v.RegisterValidation("bcryptmax", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= auth.MaxPasswordBytes
	})
	return v
}

var errEmptyBody = errors.New("request body is empty")

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// validationFields flattens validator errors into json-path -> failed tag.
func validationFields(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		ns := fe.Namespace()
		if i := strings.IndexByte(ns, '.'); i >= 0 {
			ns = ns[i+1:]
		}
		fields[ns] = fe.Tag()
	}
	return fields
}
