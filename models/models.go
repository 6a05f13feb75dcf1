package models

// Database schema overview:
// 1. users - patients (type user) and gynecologists (type doctor)
// 2. pregnancy_infos - one row per patient, start date and following doctor
// 3. chat_messages - chatbot turns of authenticated users
// 4. gynecologist_messages - patient <-> gynecologist direct messages
// 5. reminders - events extracted by the smart reminder parser
// 6. refresh_tokens, permanent_tokens - hashed opaque auth tokens

// All returns every model for AutoMigrate.
func All() []interface{} {
	return []interface{}{
		&User{},
		&PregnancyInfo{},
		&ChatMessage{},
		&GynecologistMessage{},
		&Reminder{},
		&RefreshToken{},
		&PermanentToken{},
	}
}
