package core

// prompts.go holds every instruction sent to the chat model.

import (
	"regexp"
	"strings"

	"clinical-simulator/pkg"
)

const (
	// LearnFallbackFormat is used when the model is unavailable in the learn
	// phase.  Arguments: patient name, chief complaint.
	LearnFallbackFormat = "I'm %s, and I've been experiencing %s. What else would you like to know?"

	// DiagnosisFallback is used when the model is unavailable in the
	// diagnosis phase.
	DiagnosisFallback = "Let's think about the symptoms. What patterns do you notice in the patient's presentation?"

	// ScoreFinalInstruction is appended after the replayed conversation.
	ScoreFinalInstruction = "Based on this conversation, what numerical score from 0-100 would you give for the student's clinical reasoning skills? Provide only the number."
)

// BuildSystemPrompt returns the instruction for the given case and phase.
// The learn prompt never mentions the diagnosis; the diagnosis prompt always
// does so the model can steer towards it without saying it.
func BuildSystemPrompt(c *pkg.PatientCase, phase pkg.Phase) string {
	symptoms := strings.Join(c.Symptoms, ", ")

	var b strings.Builder
	if phase == pkg.PhaseDiagnosis {
		b.WriteString("You are an experienced medical doctor helping a medical student with differential diagnosis. ")
		b.WriteString("The patient has the following symptoms: " + symptoms + ". ")
		b.WriteString("The correct diagnosis is " + c.Diagnosis + ". ")
		b.WriteString("Guide the student through the diagnostic reasoning process without immediately revealing the diagnosis. ")
		b.WriteString("Keep your responses short and conversational, and only go into detail if the student asks for it. ")
		b.WriteString("Offer hints if they seem stuck and validate correct reasoning.")
		if len(c.DifferentialDiagnosis) > 0 {
			b.WriteString(" The differential diagnosis to consider includes: " + strings.Join(c.DifferentialDiagnosis, ", ") + ".")
		}
		return b.String()
	}

	b.WriteString("You are a patient named " + c.Name + " with the following condition: " + patientCondition(c) + ". ")
	b.WriteString("You have these symptoms: " + symptoms + ". ")
	b.WriteString("Answer as if you are the patient being interviewed by a medical student. ")
	b.WriteString("Only reveal information when specifically asked about it. ")
	b.WriteString("Be realistic in your responses, with appropriate concern level for your condition.")
	if c.History != "" {
		b.WriteString(" Your medical history includes: " + redactDiagnosis(c, c.History) + ".")
	}
	if c.PhysicalExam != "" {
		b.WriteString(" Your physical examination showed: " + redactDiagnosis(c, c.PhysicalExam) + ".")
	}
	return b.String()
}

// patientCondition is the condition the patient persona is told about.  When
// a case's condition spells out the diagnosis the chief complaint is used.
func patientCondition(c *pkg.PatientCase) string {
	if c.Diagnosis != "" && strings.Contains(strings.ToLower(c.Condition), strings.ToLower(c.Diagnosis)) {
		return redactDiagnosis(c, c.ChiefComplaint)
	}
	return c.Condition
}

func redactDiagnosis(c *pkg.PatientCase, text string) string {
	if c.Diagnosis == "" {
		return text
	}
	re := regexp.MustCompile("(?i)" + regexp.QuoteMeta(c.Diagnosis))
	return re.ReplaceAllString(text, "an undiagnosed problem")
}

// BuildScoringPrompt returns the evaluator instruction for a case.
func BuildScoringPrompt(c *pkg.PatientCase) string {
	return "You are an experienced medical educator evaluating a medical student's clinical reasoning skills. " +
		"Review the following conversation between the student and patient/doctor, then provide a single " +
		"numerical score from 0-100 that reflects the student's clinical reasoning ability. " +
		"The patient has: " + strings.Join(c.Symptoms, ", ") + ". " +
		"The correct diagnosis is: " + c.Diagnosis + ". " +
		"Provide ONLY the numerical score as your response, with no additional text."
}
