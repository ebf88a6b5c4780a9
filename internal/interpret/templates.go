package interpret

import "github.com/rewired-gh/brainscan/internal/models"

type categoryTemplate struct {
	title        string
	severity     models.Severity
	description  string
	detailPoints []string
}

var categoryTemplates = map[models.Category]categoryTemplate{
	models.CategoryGlioma: {
		title:    "Glioma Tumor Detected",
		severity: models.SeverityHigh,
		description: "Gliomas arise from the glial cells that support neurons. They range from slow-growing " +
			"to aggressive forms and usually require prompt specialist assessment.",
		detailPoints: []string{
			"Originates in glial tissue of the brain or spinal cord",
			"Grade and growth rate can only be confirmed by biopsy and histopathology",
			"Symptoms may include headaches, seizures, and cognitive or personality changes",
			"Treatment planning typically involves neurosurgery, radiation and oncology",
		},
	},
	models.CategoryMeningioma: {
		title:    "Meningioma Tumor Detected",
		severity: models.SeverityModerate,
		description: "Meningiomas develop in the meninges, the membranes surrounding the brain and spinal cord. " +
			"Most are benign and slow-growing, but size and location determine the clinical impact.",
		detailPoints: []string{
			"Arises from the protective membranes around the brain",
			"The majority are benign (WHO grade I)",
			"May compress adjacent structures as it grows",
			"Small asymptomatic lesions are often monitored with serial imaging",
		},
	},
	models.CategoryPituitary: {
		title:    "Pituitary Tumor Detected",
		severity: models.SeverityModerate,
		description: "Pituitary tumors form in the pituitary gland at the base of the brain. Most are benign " +
			"adenomas, though they can disturb hormone production or press on the optic nerves.",
		detailPoints: []string{
			"Located in the pituitary gland within the sella turcica",
			"Usually benign adenomas",
			"Can cause hormonal imbalance or visual field disturbance",
			"Endocrine work-up is part of standard evaluation",
		},
	},
	models.CategoryNoTumor: {
		title:    "No Tumor Detected",
		severity: models.SeverityLow,
		description: "The model did not identify patterns consistent with glioma, meningioma or pituitary tumors " +
			"in this scan.",
		detailPoints: []string{
			"No tumor-like mass identified by the screening model",
			"Screening output is not a substitute for a radiologist's report",
			"Persistent symptoms still warrant clinical follow-up",
		},
	},
}

type recommendationKey struct {
	tumor bool
	tier  models.ConfidenceTier
}

var recommendations = map[recommendationKey][]string{
	{tumor: true, tier: models.TierVeryHigh}: {
		"Seek an urgent consultation with a neurologist or neurosurgeon",
		"Arrange a contrast-enhanced MRI to characterise the lesion",
		"Share this result and the original images with the treating specialist",
		"Discuss biopsy or surgical options with the care team",
		"Monitor for new or worsening neurological symptoms and report them immediately",
		"Consider a referral to a multidisciplinary neuro-oncology board",
	},
	{tumor: true, tier: models.TierHigh}: {
		"Schedule a neurology consultation as soon as possible",
		"Request a contrast-enhanced MRI to confirm the finding",
		"Have a radiologist review the original scan",
		"Keep a record of symptoms such as headaches, seizures or vision changes",
		"Discuss follow-up imaging intervals with your physician",
	},
	{tumor: true, tier: models.TierModerate}: {
		"Have a radiologist review the scan to confirm or rule out the finding",
		"Consider repeating the MRI with a higher-resolution protocol",
		"Schedule a follow-up appointment with your physician",
		"Compare with any previous imaging if available",
		"Report any new neurological symptoms promptly",
	},
	{tumor: true, tier: models.TierLow}: {
		"Treat this result as inconclusive; confidence is low",
		"Request a professional radiological review of the scan",
		"Consider re-imaging with a different protocol or scanner",
		"Verify the image quality and orientation before resubmitting",
		"Do not make treatment decisions based on this result alone",
	},
	{tumor: false, tier: models.TierVeryHigh}: {
		"No immediate action is indicated by this screening",
		"Continue routine health check-ups",
		"Keep this report for future comparison",
		"Consult a physician if neurological symptoms develop",
		"Follow any imaging schedule already recommended by your doctor",
	},
	{tumor: false, tier: models.TierHigh}: {
		"No tumor indicated; continue routine monitoring",
		"Keep this report for future comparison",
		"Consult a physician if symptoms persist or change",
		"Maintain regular follow-up as advised by your doctor",
		"Consider a radiologist review if clinical suspicion remains",
	},
	{tumor: false, tier: models.TierModerate}: {
		"The negative result has moderate confidence; have a radiologist review the scan",
		"Consider repeating the MRI if symptoms are present",
		"Compare with previous imaging if available",
		"Schedule a follow-up appointment with your physician",
		"Report any new neurological symptoms promptly",
	},
	{tumor: false, tier: models.TierLow}: {
		"Treat this result as inconclusive; confidence is low",
		"Request a professional radiological review of the scan",
		"Consider re-imaging with a different protocol or scanner",
		"Verify the image quality before resubmitting",
		"Do not rule out pathology based on this result alone",
		"Consult a physician if any symptoms are present",
	},
}
