package auth

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"
)

func TestRegisterValidation(t *testing.T) {
	// A nil db is enough: validation fails before any query runs.
	svc := NewService(nil, ServiceConfig{})

	tests := []struct {
		name string
		in   RegisterInput
		want error
	}{
		{
			name: "missing username",
			in:   RegisterInput{Username: "  ", Email: "a@example.test", Password: "pw", ConfirmPassword: "pw"},
			want: ErrValidation,
		},
		{
			name: "missing email",
			in:   RegisterInput{Username: "sara", Password: "pw", ConfirmPassword: "pw"},
			want: ErrValidation,
		},
		{
			name: "malformed email",
			in:   RegisterInput{Username: "sara", Email: "not-an-email", Password: "pw", ConfirmPassword: "pw"},
			want: ErrValidation,
		},
		{
			name: "missing confirmation",
			in:   RegisterInput{Username: "sara", Email: "a@example.test", Password: "pw"},
			want: ErrValidation,
		},
		{
			name: "password mismatch",
			in:   RegisterInput{Username: "sara", Email: "a@example.test", Password: "pw", ConfirmPassword: "other"},
			want: ErrPasswordMismatch,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tc.in)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestPasswordMismatchIsValidationError(t *testing.T) {
	if !errors.Is(ErrPasswordMismatch, ErrValidation) {
		t.Fatalf("password mismatch should wrap ErrValidation")
	}
}

func TestAuthenticateBlankInputSkipsQuery(t *testing.T) {
	svc := NewService(nil, ServiceConfig{})
	if _, err := svc.Authenticate(context.Background(), " ", "pw"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestEnsureAdminSkipsWithoutCredentials(t *testing.T) {
	svc := NewService(nil, ServiceConfig{})
	if err := svc.EnsureAdmin(context.Background(), AdminAccount{Username: "admin"}); err != nil {
		t.Fatalf("expected skip without password, got %v", err)
	}
}

func TestDeleteUserRejectsNonPositiveID(t *testing.T) {
	svc := NewService(nil, ServiceConfig{})
	if err := svc.DeleteUser(context.Background(), 0); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestBuildUsersWorkbook(t *testing.T) {
	created := time.Date(2024, 5, 2, 8, 30, 0, 0, time.UTC)
	data, err := buildUsersWorkbook([]UserSummary{
		{ID: 3, Username: "sara", Email: "sara@example.test", Attempts: 4, AveragePercentage: 81, CreatedAt: created},
		{ID: 8, Username: "omar", Email: "omar@example.test"},
	})
	if err != nil {
		t.Fatalf("build workbook: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		t.Fatalf("read rows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(rows))
	}
	if rows[0][1] != "username" || rows[0][4] != "average_percentage" {
		t.Fatalf("unexpected header %v", rows[0])
	}
	if rows[1][1] != "sara" || rows[1][4] != "81" || rows[1][5] != "2024-05-02 08:30:00" {
		t.Fatalf("unexpected first row %v", rows[1])
	}
}
