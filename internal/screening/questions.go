package screening

var yesNoUnsure = []string{AnswerYes, AnswerNo, AnswerUnsure}

// exclusion builds a question where "Yes" disqualifies. Uncertainty is
// treated as non-disqualifying.
func exclusion(id, prompt, msg string) Question {
	return Question{
		ID:      id,
		Prompt:  prompt,
		Answers: yesNoUnsure,
		Outcomes: map[string]Outcome{
			AnswerYes:    Disqualified,
			AnswerNo:     Qualified,
			AnswerUnsure: Qualified,
		},
		DisqualifyMessage: msg,
	}
}

// Default is the published pre-screening questionnaire.
var Default = MustTable([]Question{
	{
		ID:      "q1",
		Prompt:  "Are you between 18 and 65 years old?",
		Answers: yesNoUnsure,
		Outcomes: map[string]Outcome{
			AnswerYes:    Qualified,
			AnswerNo:     Disqualified,
			AnswerUnsure: Qualified,
		},
		DisqualifyMessage: "You must be between 18 and 65 years old to qualify.",
	},
	{
		ID:      "q2",
		Prompt:  "Has a doctor diagnosed you with the condition being studied?",
		Answers: yesNoUnsure,
		Outcomes: map[string]Outcome{
			AnswerYes:    Qualified,
			AnswerNo:     Disqualified,
			AnswerUnsure: Disqualified,
		},
		DisqualifyMessage: "A confirmed diagnosis from a doctor is required to take part in this study.",
	},
	exclusion("q3",
		"Are you pregnant, breastfeeding, or planning to become pregnant in the next 12 months?",
		"This study cannot enroll participants who are pregnant, breastfeeding, or planning a pregnancy."),
	exclusion("q4",
		"Are you currently in another clinical trial, or have you been in one in the last 30 days?",
		"You must not have taken part in another clinical trial in the last 30 days."),
	exclusion("q5",
		"Have you been diagnosed with or treated for cancer in the last 5 years?",
		"Participants with cancer in the last 5 years are not eligible for this study."),
	exclusion("q6",
		"Have you ever had a heart attack, stroke, or heart failure?",
		"A history of heart attack, stroke, or heart failure excludes participation in this study."),
	exclusion("q7",
		"Have you had an organ or bone marrow transplant?",
		"Transplant recipients are not eligible for this study."),
	exclusion("q8",
		"Do you have active hepatitis B, hepatitis C, or HIV?",
		"Participants with active hepatitis B, hepatitis C, or HIV are not eligible for this study."),
	exclusion("q9",
		"Have you been admitted to a hospital for any reason in the last 3 months?",
		"You must not have been hospitalized in the last 3 months to qualify."),
	exclusion("q10",
		"Are you on dialysis or being treated for kidney disease?",
		"Participants on dialysis or receiving treatment for kidney disease are not eligible for this study."),
})
