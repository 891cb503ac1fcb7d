package testutil

import (
	"time"

	"github.com/AROSTA-MOSTER/datakomeza/libs/apikey"
	"github.com/AROSTA-MOSTER/datakomeza/libs/auth"
)

const (
	TestJWTSecret = "test-secret"
	TestIssuer    = "datakomeza"
)

func ResidentToken(userID string) string {
	token, err := auth.Sign([]byte(TestJWTSecret), TestIssuer, userID, []string{"resident"}, time.Hour)
	if err != nil {
		panic(err)
	}
	return token
}

func AdminToken(operatorID string) string {
	token, err := auth.Sign([]byte(TestJWTSecret), TestIssuer, operatorID, []string{auth.RoleAdmin}, time.Hour)
	if err != nil {
		panic(err)
	}
	return token
}

func PartnerKey() apikey.Key {
	key, err := apikey.Generate("test")
	if err != nil {
		panic(err)
	}
	return key
}
