package x402

const (
	testAsset = "0x2222222222222222222222222222222222222222"
	testPayTo = "0x1BAB12dd29E89455752613055EC6036eD6c17ccf"
	testAgent = "0x4444444444444444444444444444444444444444"
)

func testRequirements() PaymentRequirements {
	return PaymentRequirements{
		Scheme:            SchemeKudo,
		Network:           "base-sepolia",
		MaxAmountRequired: "100000000000000",
		Resource:          "/post_tweet",
		Description:       "Post a tweet",
		MimeType:          "application/json",
		PayTo:             testPayTo,
		MaxTimeoutSeconds: 30,
		Asset:             testAsset,
		Extra: &PaymentExtra{Kudo: &KudoExtra{
			Amount:         "0.01 USDC",
			DueDateMinutes: 10,
		}},
	}
}

func signedRequirements() PaymentRequirements {
	req := testRequirements()
	req.Extra.Kudo.KudoPaymentParams = &KudoPaymentParams{
		AgentAddr:       testAgent,
		CovenantPromise: "post one tweet",
		CovenantAsk:     "0.01 USDC within 10 minutes",
		DebtAmount:      "10000",
		Signature: Signature{
			V: 27,
			R: "0x" + "11111111111111111111111111111111111111111111111111111111111111aa",
			S: "0x" + "22222222222222222222222222222222222222222222222222222222222222bb",
		},
	}
	return req
}
